// Command hashpassword prints a bcrypt hash for a USERS_FILE entry. The
// password is read from the first line of stdin so it stays out of shell
// history.
//
//	echo -n 'mat-khau' | go run ./cmd/hashpassword
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/phucdat/portal/backend/internal/model/account"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("hash password")
	}
}

func run(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password on stdin")
	}

	hash, err := account.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "password_hash: %q\n", hash)
	return err
}
