//go:build !linux

package resolve

import (
	"context"
	"fmt"
	"os/exec"
)

func systemNeighbors(ctx context.Context) ([]Neighbor, error) {
	out, err := exec.CommandContext(ctx, "arp", "-a").Output()
	if err != nil {
		return nil, fmt.Errorf("arp -a: %w", err)
	}
	return parseARPOutput(string(out)), nil
}
