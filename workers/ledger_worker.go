// workers/ledger_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"match-coordinator/models"
)

// LedgerSink stores a match record somewhere durable.
type LedgerSink interface {
	Name() string
	Record(ctx context.Context, rec models.MatchRecord) error
}

// LedgerWorker writes match records to every configured sink off the
// session path. A full queue drops records instead of blocking.
type LedgerWorker struct {
	queue       chan models.MatchRecord
	sinks       []LedgerSink
	sinkTimeout time.Duration
	done        chan struct{}
}

func NewLedgerWorker(queueSize int, sinks ...LedgerSink) *LedgerWorker {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &LedgerWorker{
		queue:       make(chan models.MatchRecord, queueSize),
		sinks:       sinks,
		sinkTimeout: 15 * time.Second,
		done:        make(chan struct{}),
	}
}

// Enqueue hands a record to the worker without blocking.
func (w *LedgerWorker) Enqueue(rec models.MatchRecord) {
	if len(w.sinks) == 0 {
		return
	}
	select {
	case w.queue <- rec:
	default:
		log.Printf("[LEDGER] ⚠️ Queue full, dropping record match=%s outcome=%s", rec.MatchID, rec.Outcome)
	}
}

func (w *LedgerWorker) Start(ctx context.Context) {
	log.Printf("🔁 Starting Ledger Worker (%d sink(s))…", len(w.sinks))
	go w.run(ctx)
}

// Done is closed once the worker has drained its queue after shutdown.
func (w *LedgerWorker) Done() <-chan struct{} {
	return w.done
}

func (w *LedgerWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case rec := <-w.queue:
			w.write(rec)
		case <-ctx.Done():
			w.drain()
			log.Println("⏹️ Ledger Worker stopped")
			return
		}
	}
}

func (w *LedgerWorker) drain() {
	for {
		select {
		case rec := <-w.queue:
			w.write(rec)
		default:
			return
		}
	}
}

// write uses its own context so records queued before shutdown still land.
func (w *LedgerWorker) write(rec models.MatchRecord) {
	for _, sink := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), w.sinkTimeout)
		err := sink.Record(ctx, rec)
		cancel()
		if err != nil {
			log.Printf("[LEDGER] ❌ %s failed for match=%s outcome=%s: %v", sink.Name(), rec.MatchID, rec.Outcome, err)
			continue
		}
		log.Printf("[LEDGER] ✅ %s stored match=%s outcome=%s", sink.Name(), rec.MatchID, rec.Outcome)
	}
}
