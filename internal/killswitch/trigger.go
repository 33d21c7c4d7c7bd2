package killswitch

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// SendNetworkTrigger sends the stop token to a switch listening on the loopback port.
func SendNetworkTrigger(ctx context.Context, port int) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dial network trigger: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(Token + "\n")); err != nil {
		return fmt.Errorf("send network trigger: %w", err)
	}
	return nil
}

// TouchSentinel creates the sentinel file watched by the file trigger.
func TouchSentinel(path string) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(path, stamp, 0o600); err != nil {
		return fmt.Errorf("create sentinel file: %w", err)
	}
	return nil
}
