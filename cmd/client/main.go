// Command client is a thin CLI over the Client Endpoint: login caches a
// token on disk, submit queues a task, status reports its current
// attributes. Mirrors the reference client's login/submit/status
// subcommands one-for-one.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"distask/internal/config"
	"distask/internal/wire"
)

const tokenFile = ".api_token"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	orchestratorAddr := config.Default().ClientAddr
	switch os.Args[1] {
	case "login":
		runLogin(os.Args[2:], orchestratorAddr)
	case "submit":
		runSubmit(os.Args[2:], orchestratorAddr)
	case "status":
		runStatus(os.Args[2:], orchestratorAddr)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: client <login|submit|status> ...")
	fmt.Fprintln(os.Stderr, "  client login <username> <password>")
	fmt.Fprintln(os.Stderr, "  client submit [-duration seconds] <description>")
	fmt.Fprintln(os.Stderr, "  client status <task_id>")
}

func runLogin(args []string, addr string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: client login <username> <password>")
		os.Exit(1)
	}

	resp, err := sendRequest(addr, wire.ClientRequest{Action: wire.ActionLogin, Username: rest[0], Password: rest[1]})
	if err != nil {
		fmt.Printf("Erro no login: %v\n", err)
		return
	}
	if resp.Error != "" {
		fmt.Printf("Erro no login: %s\n", resp.Error)
		return
	}
	if err := saveToken(resp.Token); err != nil {
		fmt.Printf("Login realizado, mas falha ao salvar token: %v\n", err)
		return
	}
	fmt.Println("Login realizado com sucesso. Token salvo.")
}

func runSubmit(args []string, addr string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	duration := fs.Int("duration", 5, "simulated task duration in seconds")
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: client submit [-duration seconds] <description>")
		os.Exit(1)
	}

	token, err := loadToken()
	if err != nil || token == "" {
		fmt.Println("Você precisa fazer login primeiro. Use: client login <user> <pass>")
		return
	}

	req := wire.ClientRequest{
		Action: wire.ActionSubmitTask,
		Token:  token,
		Data:   map[string]interface{}{"description": rest[0], "duration": *duration},
	}
	resp, err := sendRequest(addr, req)
	if err != nil {
		fmt.Printf("Erro ao submeter tarefa: %v\n", err)
		return
	}
	if resp.Error != "" {
		fmt.Printf("Erro ao submeter tarefa: %s\n", resp.Error)
		return
	}
	fmt.Printf("Tarefa submetida com sucesso! ID da Tarefa: %s\n", resp.TaskID)
}

func runStatus(args []string, addr string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: client status <task_id>")
		os.Exit(1)
	}

	token, err := loadToken()
	if err != nil || token == "" {
		fmt.Println("Você precisa fazer login primeiro.")
		return
	}

	raw, err := sendRaw(addr, wire.ClientRequest{Action: wire.ActionTaskStatus, Token: token, TaskID: rest[0]})
	if err != nil {
		fmt.Printf("Erro: %v\n", err)
		return
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		fmt.Println("Erro: resposta inválida recebida do servidor.")
		return
	}
	if errMsg, ok := fields["error"]; ok {
		fmt.Printf("Erro: %v\n", errMsg)
		return
	}

	fmt.Println("\n--- Status da Tarefa ---")
	for key, value := range fields {
		fmt.Printf("%-20s: %v\n", capitalize(key), value)
	}
	fmt.Println("------------------------")
}

func sendRequest(addr string, req wire.ClientRequest) (wire.ClientResponse, error) {
	raw, err := sendRaw(addr, req)
	if err != nil {
		return wire.ClientResponse{}, err
	}
	var resp wire.ClientResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return wire.ClientResponse{}, fmt.Errorf("resposta inválida recebida do servidor")
	}
	return resp, nil
}

func sendRaw(addr string, req wire.ClientRequest) ([]byte, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("não foi possível conectar ao orquestrador: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(data); err != nil {
		return nil, err
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func saveToken(token string) error {
	return os.WriteFile(tokenFile, []byte(token), 0o600)
}

func loadToken() (string, error) {
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
