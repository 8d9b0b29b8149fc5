package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"
)

// CredentialSource supplies database passwords at import time. ok is false
// when the source has nothing for the database.
type CredentialSource interface {
	Password(ctx context.Context, database string) (password string, ok bool, err error)
}

// StaticCredentials maps database stable names to passwords, typically from
// the environment's configuration. Config keys may arrive lower-cased, so a
// case-insensitive match is accepted when there is no exact one.
type StaticCredentials map[string]string

// Password implements CredentialSource.
func (s StaticCredentials) Password(_ context.Context, database string) (string, bool, error) {
	if pwd, ok := s[database]; ok {
		return pwd, true, nil
	}
	for name, pwd := range s {
		if strings.EqualFold(name, database) {
			return pwd, true, nil
		}
	}
	return "", false, nil
}

// CredentialEnvPrefix prefixes the environment variables read by EnvCredentials.
const CredentialEnvPrefix = "SSDEPLOY_CREDENTIAL_"

// EnvCredentials reads SSDEPLOY_CREDENTIAL_<NAME>, where NAME is the database
// name upper-cased with every other character replaced by an underscore.
type EnvCredentials struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// CredentialEnvVar returns the variable consulted for a database.
func CredentialEnvVar(database string) string {
	var b strings.Builder
	b.WriteString(CredentialEnvPrefix)
	for _, r := range database {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Password implements CredentialSource.
func (e EnvCredentials) Password(_ context.Context, database string) (string, bool, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	pwd, ok := lookup(CredentialEnvVar(database))
	return pwd, ok, nil
}

// PromptCredentials asks on the terminal. It yields nothing when In is not a
// terminal.
type PromptCredentials struct {
	In  *os.File
	Out io.Writer
}

// Password implements CredentialSource.
func (p PromptCredentials) Password(_ context.Context, database string) (string, bool, error) {
	in := p.In
	if in == nil {
		in = os.Stdin
	}
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}
	if _, err := fmt.Fprintf(out, "Password for database %s: ", database); err != nil {
		return "", false, err
	}
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", false, fmt.Errorf("read password: %w", err)
	}
	return string(secret), true, nil
}

// ChainCredentials asks each source in order and returns the first answer.
type ChainCredentials []CredentialSource

// Password implements CredentialSource.
func (c ChainCredentials) Password(ctx context.Context, database string) (string, bool, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		pwd, ok, err := src.Password(ctx, database)
		if err != nil || ok {
			return pwd, ok, err
		}
	}
	return "", false, nil
}
