package verify_listen

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/rs/zerolog/log"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// ActionName is the name the action registers under.
const ActionName = "verify_listen"

const defaultPollInterval = time.Second

// ConnectionLister returns the host's TCP sockets. Replaced in tests.
type ConnectionLister func(ctx context.Context) ([]psnet.ConnectionStat, error)

func listTCP(ctx context.Context) ([]psnet.ConnectionStat, error) {
	return psnet.ConnectionsWithContext(ctx, "tcp")
}

// VerifyListenAction implements the actions.Action interface. It waits for a
// LISTEN socket on Port after a restart. It only reports; it never retries the
// restart or rolls the config back.
type VerifyListenAction struct {
	Port         uint32
	Timeout      time.Duration
	PollInterval time.Duration
	List         ConnectionLister
}

// New creates the action for the port written to the honeypot config.
func New(port string, timeout time.Duration) (*VerifyListenAction, error) {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return nil, errors.NewConfigError(ActionName, fmt.Errorf("invalid port %q", port), map[string]interface{}{"port": port})
	}
	return &VerifyListenAction{
		Port:         uint32(p),
		Timeout:      timeout,
		PollInterval: defaultPollInterval,
		List:         listTCP,
	}, nil
}

// Name returns the unique name of the action.
func (vla *VerifyListenAction) Name() string {
	return ActionName
}

// Execute polls until the port is listening or Timeout elapses.
func (vla *VerifyListenAction) Execute(ctx context.Context, data map[string]interface{}) error {
	check := fmt.Sprintf("tcp port %d listening", vla.Port)
	if vla.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, vla.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(vla.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		listening, err := vla.listening(ctx)
		if err == nil && listening {
			log.Info().Str("action", ActionName).Uint32("port", vla.Port).Msg("Honeypot is listening on the new port.")
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return errors.NewVerificationError(ActionName, check, lastErr)
		case <-ticker.C:
		}
	}
}

func (vla *VerifyListenAction) listening(ctx context.Context) (bool, error) {
	conns, err := vla.List(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == vla.Port {
			return true, nil
		}
	}
	return false, nil
}
