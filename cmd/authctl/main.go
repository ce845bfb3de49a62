// Command authctl is a small operator CLI for the picvault auth server.
//
// Usage:
//
//	authctl [-a http://localhost:8080] register
//	authctl [-a http://localhost:8080] login
//	authctl [-a http://localhost:8080] refresh -id <user-id> -token <refresh-token>
//	authctl [-a http://localhost:8080] rotate -id <user-id> -token <refresh-token>
//
// register and login prompt for email and password (the password is read
// without echo) and print the issued tokens. refresh asks the server for a
// fresh access token using an existing session; rotate additionally replaces
// the session, invalidating the old refresh token.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	headerAccessToken  = "x-access-token"
	headerRefreshToken = "x-refresh-token"
	headerUserID       = "_id"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	addr := flag.String("a", "http://localhost:8080", "server base URL")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: authctl [-a addr] register|login|refresh|rotate")
		os.Exit(2)
	}

	var err error
	switch flag.Arg(0) {
	case "register":
		err = signUpOrIn(*addr, "/users")
	case "login":
		err = signUpOrIn(*addr, "/users/login")
	case "refresh":
		err = refresh(*addr, flag.Args()[1:], false)
	case "rotate":
		err = refresh(*addr, flag.Args()[1:], true)
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signUpOrIn(addr, path string) error {
	email, err := promptText("Email")
	if err != nil {
		return err
	}
	password, err := promptPassword()
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}

	resp, err := http.Post(addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return serverError(resp)
	}

	fmt.Printf("user id:       %s\n", userIDFromBody(resp.Body))
	fmt.Printf("access token:  %s\n", resp.Header.Get(headerAccessToken))
	fmt.Printf("refresh token: %s\n", resp.Header.Get(headerRefreshToken))
	return nil
}

func refresh(addr string, args []string, rotate bool) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	userID := fs.String("id", "", "user id")
	token := fs.String("token", "", "refresh token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *token == "" {
		return errors.New("refresh requires -id and -token")
	}

	method, path := http.MethodGet, "/users/me/access-token"
	if rotate {
		method, path = http.MethodPost, "/users/me/sessions/rotate"
	}

	req, err := http.NewRequest(method, addr+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(headerUserID, *userID)
	req.Header.Set(headerRefreshToken, *token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}

	fmt.Printf("access token: %s\n", resp.Header.Get(headerAccessToken))
	if rotate {
		fmt.Printf("refresh token: %s\n", resp.Header.Get(headerRefreshToken))
	}
	return nil
}

func promptText(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func userIDFromBody(r io.Reader) string {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return ""
	}
	return body.ID
}

func serverError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("server: %s", resp.Status)
}
