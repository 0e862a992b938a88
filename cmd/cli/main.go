// Command clinicctl is a CLI client for the clinic-credit redemption service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpcserver "github.com/and161185/clinic-credit/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "clinicctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clinicctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid access token (run login)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from an access token without verifying it; the
// server verifies. Tokens without exp are kept for 15 minutes.
func tokenExpiry(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("not a JWT: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Now().Add(15 * time.Minute), nil
	}
	return claims.ExpiresAt.Time, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token     string
	secureReq bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerCreds) RequireTransportSecurity() bool { return b.secureReq }

type target struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(t target, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	var creds credentials.TransportCredentials
	if t.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(t.caPath, t.insecure); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secureReq: !t.plaintext}))
	}
	cc, err := grpc.NewClient(t.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `clinicctl CLI

Usage:
  clinicctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  login     -token <jwt> | -file <path|->            (saves access token)
  mint      -key <access key> -sub <uuid> -role <patient|clinic|admin> [-ttl 1h] [-save]
  generate  -account <uuid> [-type ClinicVisit|Appointment] [-size 256] [-qr out.png]
  redeem    -token <token> | -file <path|->
  cancel    -id <uuid> [-reason text] [-refund]
  account   -id <uuid>
  tx        -id <uuid>
  health
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	t := target{addr: *addr, caPath: *caPath, insecure: *skipVerify, plaintext: *plaintext}
	args := flag.Args()[1:]

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("clinicctl %s (%s)\n", version, buildDate)
	case "login":
		cmdLogin(args)
	case "mint":
		cmdMint(args)
	case "generate":
		cmdGenerate(args, t)
	case "redeem":
		cmdRedeem(args, t)
	case "cancel":
		cmdCancel(args, t)
	case "account":
		cmdAccount(args, t)
	case "tx":
		cmdTransaction(args, t)
	case "health":
		cmdHealth(t)
	default:
		usage()
	}
}

// ---- helpers ----

// describeError renders an RPC failure with its stable error code and, for
// rate limiting, the retry hint from the trailer.
func describeError(err error, trailer metadata.MD) string {
	s, ok := status.FromError(err)
	if !ok {
		return err.Error()
	}
	out := fmt.Sprintf("rpc error: code=%s error_code=%s msg=%s", s.Code(), grpcserver.ErrorCodeOf(err), s.Message())
	if ra := trailer.Get(grpcserver.MDRetryAfter); len(ra) > 0 {
		out += " retry_after=" + strings.Join(ra, ",") + "s"
	}
	return out
}

func fail(err error) {
	failWithTrailer(err, nil)
}

func failWithTrailer(err error, trailer metadata.MD) {
	fmt.Fprintln(os.Stderr, describeError(err, trailer))
	os.Exit(1)
}
