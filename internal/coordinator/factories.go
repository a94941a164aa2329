package coordinator

import (
	"yt-analyzer-client/internal/polling"
	"yt-analyzer-client/internal/realtime"
)

// RealtimeChannels adapts a realtime.Dialer to the Channels port.
func RealtimeChannels(d *realtime.Dialer) Channels {
	return dialerChannels{d: d}
}

type dialerChannels struct {
	d *realtime.Dialer
}

func (c dialerChannels) Connect(jobID string, ev realtime.Events) ChannelHandle {
	return c.d.Connect(jobID, ev)
}

// StatusPollers adapts a status fetcher to the Pollers port; each
// fallback gets a fresh poller.
func StatusPollers(fetcher polling.StatusFetcher) Pollers {
	return statusPollers{fetcher: fetcher}
}

type statusPollers struct {
	fetcher polling.StatusFetcher
}

func (p statusPollers) Start(jobID string, ev polling.Events) PollerHandle {
	poller := polling.New(p.fetcher, ev)
	poller.Start(jobID)
	return poller
}
