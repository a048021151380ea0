// Command capctl inspects and manages roles and capabilities.
//
//	capctl roles list
//	capctl --fixtures site.yaml can amy edit_post --object 10
//	capctl --fixtures site.yaml map amy delete_post --object 10
//
// State is kept in the store named by storage.driver, so with the default
// memory store every invocation starts from the fixtures file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpup/capable/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := newApp()
	err := a.command().ExecuteContext(ctx)
	if cerr := a.close(context.Background()); err == nil {
		err = cerr
	}
	switch {
	case err == nil:
	case errors.Is(err, errDenied):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "capctl:", err)
		os.Exit(1)
	}
}
