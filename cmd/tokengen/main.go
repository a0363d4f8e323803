/*
Package main implements tokengen, a development tool that mints RS256
connection credentials.

In production the token issuer is an external service; tokengen stands in for it
during local development and manual testing. The keypair subcommand generates a
PEM keypair whose public half feeds the server's PUBLIC_KEY_PATH.
*/
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/docopt/docopt-go"

	"codecollab/internal/pkg/auth/jwt"
	"codecollab/protocol"
)

const TokenGenVersion = "0.1.0"

const usage = `Mint development credentials for the collaboration server.

Usage:
    tokengen keypair --out=<dir>
    tokengen token --key=<private_pem>
        --id=<user_id>
        --email=<email>
        --name=<name>
        [--ttl=<duration>]
    tokengen -h | --help

Options:
    --out=<dir>         Directory to write private.pem and public.pem into.
    --key=<private_pem> Path to the RSA private key used for signing.
    --ttl=<duration>    Token lifetime, Go duration syntax [default: 24h].
    -h --help           Show this help.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], TokenGenVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}

	switch {
	case mustBool(opts, "keypair"):
		generateKeypair(opts)
	case mustBool(opts, "token"):
		generateToken(opts)
	}
}

func mustBool(opts docopt.Opts, key string) bool {
	value, _ := opts.Bool(key)
	return value
}

func mustString(opts docopt.Opts, key string) string {
	value, err := opts.String(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: missing %s\n", key)
		os.Exit(1)
	}
	return value
}

func generateKeypair(opts docopt.Opts) {
	outDir := mustString(opts, "--out")

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: failed to generate keypair: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: failed to marshal public key: %v\n", err)
		os.Exit(1)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicBytes,
	})

	if err := os.WriteFile(outDir+"/private.pem", privatePEM, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outDir+"/public.pem", publicPEM, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s/private.pem and %s/public.pem\n", outDir, outDir)
}

func generateToken(opts docopt.Opts) {
	keyPath := mustString(opts, "--key")
	ttlStr := mustString(opts, "--ttl")

	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: invalid --ttl: %v\n", err)
		os.Exit(1)
	}

	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		fmt.Fprintf(os.Stderr, "tokengen: %s contains no PEM block\n", keyPath)
		os.Exit(1)
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: failed to parse private key: %v\n", err)
		os.Exit(1)
	}

	identity := protocol.Identity{
		ID:    mustString(opts, "--id"),
		Email: mustString(opts, "--email"),
		Name:  mustString(opts, "--name"),
	}

	token, err := jwt.GenerateToken(privateKey, identity, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
