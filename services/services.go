// Package services restarts the system daemons that consume the generated
// configuration.
package services

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Restarter restarts a named system service.
type Restarter interface {
	Restart(ctx context.Context, name string) error
}

// System restarts services through the init system's service command.
type System struct {
	Command string
}

// Restart runs `service <name> restart`.
func (s System) Restart(ctx context.Context, name string) error {
	command := s.Command
	if command == "" {
		command = "/usr/sbin/service"
	}
	out, err := exec.CommandContext(ctx, command, name, "restart").CombinedOutput()
	if err != nil {
		return fmt.Errorf("restarting %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	logrus.WithFields(logrus.Fields{"service": name}).Info("Service restarted")
	return nil
}
