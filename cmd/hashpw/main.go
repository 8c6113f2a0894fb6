// Command hashpw prints a bcrypt hash for OPERATOR_PASSWORD_HASH.  The
// password is read from stdin so it does not end up in shell history.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/iliyamo/raffle-settlement/internal/utils"
)

func main() {
	cost := pflag.Int("cost", 12, "bcrypt cost")
	pflag.Parse()

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "hashpw: read password:", err)
		os.Exit(1)
	}
	plain := strings.TrimRight(line, "\r\n")
	if plain == "" {
		fmt.Fprintln(os.Stderr, "hashpw: empty password")
		os.Exit(1)
	}
	hash, err := utils.HashPassword(plain, *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashpw:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
