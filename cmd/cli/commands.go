package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/clinic-credit/internal/api"
	"github.com/and161185/clinic-credit/internal/auth"
	"github.com/and161185/clinic-credit/internal/model"
	grpcserver "github.com/and161185/clinic-credit/internal/server/grpc"
)

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// tokenArg returns the -token value or the trimmed contents of -file.
func tokenArg(tok, file string) (string, error) {
	if tok != "" {
		return strings.TrimSpace(tok), nil
	}
	if file == "" {
		return "", errors.New("need -token or -file")
	}
	b, err := readAll(file)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func needUUID(name, v string) {
	if _, err := u.FromString(v); err != nil {
		fmt.Fprintf(os.Stderr, "need -%s <uuid>\n", name)
		os.Exit(1)
	}
}

func authed(t target) (*grpc.ClientConn, *grpcserver.Client) {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(t, token)
	if err != nil {
		fail(err)
	}
	return cc, cli
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	tok := fs.String("token", "", "access token (JWT)")
	file := fs.String("file", "", "read access token from file or - for stdin")
	_ = fs.Parse(args)

	raw, err := tokenArg(*tok, *file)
	if err != nil {
		fail(err)
	}
	exp, err := tokenExpiry(raw)
	if err != nil {
		fail(err)
	}
	if err := saveToken(raw, exp); err != nil {
		fail(err)
	}
	fmt.Println("ok, expires", exp.UTC().Format(time.RFC3339))
}

// cmdMint signs an access token locally. Development only: production tokens
// come from the identity system.
func cmdMint(args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	key := fs.String("key", os.Getenv("ACCESS_TOKEN_KEY"), "access token HS256 key")
	sub := fs.String("sub", "", "principal id (uuid)")
	role := fs.String("role", string(model.RolePatient), "patient|clinic|admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	save := fs.Bool("save", false, "store as the current access token")
	_ = fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "need -key or ACCESS_TOKEN_KEY")
		os.Exit(1)
	}
	id, err := u.FromString(*sub)
	if err != nil {
		fmt.Fprintln(os.Stderr, "need -sub <uuid>")
		os.Exit(1)
	}
	raw, exp, err := auth.New([]byte(*key)).Issue(model.Principal{ID: id, Role: model.Role(*role)}, *ttl)
	if err != nil {
		fail(err)
	}
	if *save {
		if err := saveToken(raw, exp); err != nil {
			fail(err)
		}
	}
	fmt.Println(raw)
}

func cmdGenerate(args []string, t target) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	account := fs.String("account", "", "credit account id (uuid)")
	typ := fs.String("type", string(model.TokenTypeClinicVisit), "ClinicVisit|Appointment")
	size := fs.Int("size", 256, "QR image size in pixels")
	qrOut := fs.String("qr", "", "write QR PNG to this file")
	_ = fs.Parse(args)
	needUUID("account", *account)

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli := authed(t)
	defer cc.Close()

	var trailer metadata.MD
	out, err := cli.GenerateToken(ctx, &api.GenerateTokenRequest{
		CreditAccountID: *account,
		TokenType:       *typ,
		SizeHint:        *size,
	}, grpc.Trailer(&trailer))
	if err != nil {
		failWithTrailer(err, trailer)
	}
	if *qrOut != "" && len(out.QRCodePNG) > 0 {
		if err := os.WriteFile(*qrOut, out.QRCodePNG, 0o600); err != nil {
			fail(err)
		}
	}
	out.QRCodePNG = nil
	printJSON(out)
}

func cmdRedeem(args []string, t target) {
	fs := flag.NewFlagSet("redeem", flag.ExitOnError)
	tok := fs.String("token", "", "redemption token")
	file := fs.String("file", "", "read token from file or - for stdin")
	_ = fs.Parse(args)

	raw, err := tokenArg(*tok, *file)
	if err != nil {
		fail(err)
	}
	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli := authed(t)
	defer cc.Close()

	out, err := cli.RedeemToken(ctx, &api.RedeemTokenRequest{Token: raw})
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func cmdCancel(args []string, t target) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "transaction id (uuid)")
	reason := fs.String("reason", "", "cancellation reason")
	refund := fs.Bool("refund", false, "return credits of a validated transaction")
	_ = fs.Parse(args)
	needUUID("id", *id)

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli := authed(t)
	defer cc.Close()

	out, err := cli.CancelTransaction(ctx, &api.CancelTransactionRequest{TransactionID: *id, Reason: *reason, RefundCredits: *refund})
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func cmdAccount(args []string, t target) {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	id := fs.String("id", "", "credit account id (uuid)")
	_ = fs.Parse(args)
	needUUID("id", *id)

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli := authed(t)
	defer cc.Close()

	out, err := cli.GetAccount(ctx, &api.GetAccountRequest{CreditAccountID: *id})
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func cmdTransaction(args []string, t target) {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	id := fs.String("id", "", "transaction id (uuid)")
	_ = fs.Parse(args)
	needUUID("id", *id)

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli := authed(t)
	defer cc.Close()

	out, err := cli.GetTransaction(ctx, &api.GetTransactionRequest{TransactionID: *id})
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func cmdHealth(t target) {
	ctx, cancel := withTimeout()
	defer cancel()
	cc, _, err := dial(t, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	if err != nil {
		fail(err)
	}
	fmt.Println(resp.GetStatus().String())
}
