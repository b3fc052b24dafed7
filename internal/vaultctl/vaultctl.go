// Package vaultctl is the offline operator tool: it hashes and verifies
// master secrets, mints recovery codes, and generates and scores passwords
// without touching the database.
package vaultctl

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/flagx"
	"github.com/dmitrijs2005/vaultcore/internal/hasher"
	"github.com/dmitrijs2005/vaultcore/internal/recovery"
	"github.com/dmitrijs2005/vaultcore/internal/strength"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

const usage = `usage: vaultctl <command> [flags]

commands:
  hash       read a secret and print its Argon2id hash (-t, -m, -p)
  verify     read a secret and check it against a hash (-h)
  recovery   mint a recovery code in the display format
  generate   print a random password (-l, -u, -d, -s)
  strength   read a password and print its strength
`

// errMismatch makes Run exit with status 1 without an error message.
var errMismatch = errors.New("mismatch")

type App struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	fd     int
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{in: bufio.NewReader(in), out: out, errOut: errOut, fd: int(os.Stdin.Fd())}
}

// Run executes the command in args and returns the process exit status.
func (a *App) Run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(a.errOut, usage)
		return 2
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "hash":
		err = a.runHash(rest)
	case "verify":
		err = a.runVerify(rest)
	case "recovery":
		err = a.runRecovery()
	case "generate":
		err = a.runGenerate(rest)
	case "strength":
		err = a.runStrength()
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errMismatch):
		return 1
	default:
		fmt.Fprintln(a.errOut, "error:", err)
		return 1
	}
}

func (a *App) runHash(args []string) error {
	p := hasher.DefaultParams
	var (
		passes    = uint(p.Time)
		memoryMiB = uint(p.MemoryKiB / 1024)
		threads   = uint(p.Threads)
	)

	fs := newFlagSet("hash", a.errOut)
	fs.UintVar(&passes, "t", passes, "argon2 passes")
	fs.UintVar(&memoryMiB, "m", memoryMiB, "argon2 memory in MiB")
	fs.UintVar(&threads, "p", threads, "argon2 threads")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-t", "-m", "-p"})); err != nil {
		return err
	}
	if threads > 255 {
		return fmt.Errorf("%w: at most 255 threads", common.ErrInvalidInput)
	}
	p.Time = uint32(passes)
	p.MemoryKiB = uint32(memoryMiB * 1024)
	p.Threads = uint8(threads)

	h, err := hasher.NewHasher(p)
	if err != nil {
		return err
	}

	secret, err := a.readSecret("Secret: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	encoded, err := h.Hash(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, encoded)
	return nil
}

func (a *App) runVerify(args []string) error {
	var encoded string

	fs := newFlagSet("verify", a.errOut)
	fs.StringVar(&encoded, "h", "", "PHC-encoded hash to check against")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-h"})); err != nil {
		return err
	}
	if encoded == "" {
		return fmt.Errorf("%w: -h is required", common.ErrInvalidInput)
	}

	secret, err := a.readSecret("Secret: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	ok, err := hasher.Default().Verify(secret, encoded)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "mismatch")
		return errMismatch
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

// runRecovery prints a fresh code only. A usable recovery credential also
// needs the escrow sealed under the master secret, which the server builds.
func (a *App) runRecovery() error {
	code, err := recovery.Generate()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "code: %s\n", code)
	return nil
}

func (a *App) runGenerate(args []string) error {
	opts := strength.DefaultOptions

	fs := newFlagSet("generate", a.errOut)
	fs.IntVar(&opts.Length, "l", opts.Length, "password length")
	fs.BoolVar(&opts.Uppercase, "u", opts.Uppercase, "include uppercase letters")
	fs.BoolVar(&opts.Digits, "d", opts.Digits, "include digits")
	fs.BoolVar(&opts.Special, "s", opts.Special, "include special characters")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-l", "-u", "-d", "-s"})); err != nil {
		return err
	}

	pw, err := strength.Generate(opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, pw)
	return nil
}

func (a *App) runStrength() error {
	pw, err := a.readSecret("Password: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	r := strength.Classify(string(pw))
	fmt.Fprintf(a.out, "level: %s\nscore: %d\nguessability: %d/4\n", r.Level, r.Score, r.Guessability)
	for _, f := range r.Feedback {
		fmt.Fprintf(a.out, "- %s\n", f)
	}
	return nil
}

// readSecret reads without echo from a terminal, or a single line from the
// input otherwise. The caller wipes the result.
func (a *App) readSecret(prompt string) ([]byte, error) {
	if isTerminal(a.fd) {
		fmt.Fprint(a.errOut, prompt)
		secret, err := readPassword(a.fd)
		fmt.Fprintln(a.errOut)
		if err != nil {
			return nil, err
		}
		return secret, nil
	}

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func newFlagSet(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}
