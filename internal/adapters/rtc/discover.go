package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// DefaultService is the mDNS service type the rendezvous server announces.
const DefaultService = "_patchroom._tcp"

// Discover browses the local network for a rendezvous server and returns its
// signaling websocket URL.
func Discover(ctx context.Context, service string, wait time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return "", err
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no %s service found", service)
			}
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			url := fmt.Sprintf("ws://%s:%d/api/ws/signal", entry.AddrIPv4[0], entry.Port)
			log.Info().Str("module", "rtc").Str("instance", entry.Instance).Str("url", url).Msg("rendezvous discovered")
			return url, nil
		case <-ctx.Done():
			return "", fmt.Errorf("no %s service found: %w", service, ctx.Err())
		}
	}
}
