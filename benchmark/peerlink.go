package benchmark

import (
	"github.com/CJJ1008/speed/device"
	"github.com/pkg/errors"
)

// EnablePeerLinks establishes bidirectional direct access between every
// reader device and the target. Nothing here is fatal: a reader without a
// peer link falls back to the host-staged relay, which is slower but
// correct, so failures only cost bandwidth.
func EnablePeerLinks(target *device.Device, readers []*device.Device) {
	for _, r := range readers {
		if r == target {
			continue
		}
		if !r.CanAccessPeer(target) || !target.CanAccessPeer(r) {
			logger.Warn().
				Int("reader", r.ID()).
				Int("target", target.ID()).
				Msg("peer access unsupported, relay will stage through host")
			continue
		}
		enablePair(r, target)
		enablePair(target, r)
	}
}

func enablePair(from, to *device.Device) {
	err := from.EnablePeerAccess(to)
	switch {
	case err == nil, errors.Is(err, device.ErrPeerAlreadyEnabled):
	default:
		logger.Warn().Err(err).
			Int("from", from.ID()).
			Int("to", to.ID()).
			Msg("enabling peer access failed, relay will stage through host")
	}
}
