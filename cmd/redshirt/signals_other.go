//go:build !unix

package main

import (
	"context"

	"github.com/vitali2y/redshirt/boot"
)

func forwardSignals(ctx context.Context, sys *boot.System) {}
