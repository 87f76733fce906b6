package downloader

import (
	"github.com/rcrowley/go-metrics"
)

type downloaderMetrics struct {
	registry metrics.Registry

	PiecesValidated    metrics.Counter
	ValidationFailures metrics.Counter
	PiecesRequeued     metrics.Counter
	BytesDownloaded    metrics.Counter
	BytesWasted        metrics.Counter
	PiecesMissing      metrics.Gauge
	PeersConnected     metrics.Gauge
	PeersFailed        metrics.Gauge
}

func (d *Downloader) initMetrics() {
	r := metrics.NewRegistry()
	d.metrics = &downloaderMetrics{
		registry: r,

		PiecesValidated:    metrics.NewRegisteredCounter("pieces_validated", r),
		ValidationFailures: metrics.NewRegisteredCounter("validation_failures", r),
		PiecesRequeued:     metrics.NewRegisteredCounter("pieces_requeued", r),
		BytesDownloaded:    metrics.NewRegisteredCounter("bytes_downloaded", r),
		BytesWasted:        metrics.NewRegisteredCounter("bytes_wasted", r),
		PiecesMissing: metrics.NewRegisteredFunctionalGauge("pieces_missing", r, func() int64 {
			return int64(len(d.pieces.Missing()))
		}),
		PeersConnected: metrics.NewRegisteredFunctionalGauge("peers_connected", r, func() int64 {
			return int64(d.peers.Connected())
		}),
		PeersFailed: metrics.NewRegisteredFunctionalGauge("peers_failed", r, func() int64 {
			return int64(d.peers.Failed())
		}),
	}
}

// Stats is a snapshot of download progress.
type Stats struct {
	PiecesTotal        int
	PiecesMissing      int
	PiecesValidated    int64
	ValidationFailures int64
	PiecesRequeued     int64
	BytesDownloaded    int64
	BytesWasted        int64
	PeersConnected     int
	PeersFailed        int
}

// Stats returns the current counters of the download.
func (d *Downloader) Stats() Stats {
	m := d.metrics
	return Stats{
		PiecesTotal:        len(d.pieces),
		PiecesMissing:      int(m.PiecesMissing.Value()),
		PiecesValidated:    m.PiecesValidated.Count(),
		ValidationFailures: m.ValidationFailures.Count(),
		PiecesRequeued:     m.PiecesRequeued.Count(),
		BytesDownloaded:    m.BytesDownloaded.Count(),
		BytesWasted:        m.BytesWasted.Count(),
		PeersConnected:     int(m.PeersConnected.Value()),
		PeersFailed:        int(m.PeersFailed.Value()),
	}
}

// Registry returns the metrics registry of the download.
func (d *Downloader) Registry() metrics.Registry {
	return d.metrics.registry
}
