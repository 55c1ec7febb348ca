package risk

import (
	"context"
	"sync"
	"time"

	"arbflow/internal/channel"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"
)

// Executor is the collaborator that carries a trade intent out. The core
// never talks to order endpoints itself; whatever sits behind this
// interface does. Execute must honor the context deadline.
type Executor interface {
	Execute(ctx context.Context, intent models.TradeIntent) (models.Outcome, error)
}

// LogExecutor is the default executor: it acknowledges every intent
// without trading, which turns the whole system into a monitor.
type LogExecutor struct {
	log *logger.Entry
}

func NewLogExecutor() *LogExecutor {
	return &LogExecutor{log: logger.GetLogger().WithComponent("log_executor")}
}

func (e *LogExecutor) Execute(ctx context.Context, intent models.TradeIntent) (models.Outcome, error) {
	e.log.WithFields(logger.Fields{
		"intent_id":   intent.ID,
		"fingerprint": intent.Fingerprint,
		"legs":        len(intent.Legs),
	}).Info("paper execution")
	return models.Outcome{IntentID: intent.ID, Status: models.OutcomeAccepted}, nil
}

// Coordinator drains the opportunity channel through the gate and hands
// admitted intents to the executor. Every dispatch is bounded by the ack
// timeout; an executor that does not answer in time is treated as a
// timeout outcome and the fingerprint is released either way.
type Coordinator struct {
	gate       *Gate
	exec       Executor
	channels   *channel.Channels
	ackTimeout time.Duration
	log        *logger.Entry

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewCoordinator(gate *Gate, exec Executor, ch *channel.Channels, ackTimeout time.Duration) *Coordinator {
	return &Coordinator{
		gate:       gate,
		exec:       exec,
		channels:   ch,
		ackTimeout: ackTimeout,
		log:        logger.GetLogger().WithComponent("execution_coordinator"),
	}
}

func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.drain(runCtx)
	c.log.Info("execution coordinator started")
	return nil
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
	c.log.Info("execution coordinator stopped")
}

func (c *Coordinator) drain(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-c.channels.Opportunities:
			if !ok {
				return
			}
			intent, err := c.gate.Admit(opp)
			if err != nil {
				continue
			}
			metrics.IncrementIntentDispatched()
			logger.IncrementIntentDispatched()
			c.wg.Add(1)
			go c.dispatch(ctx, intent)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, intent models.TradeIntent) {
	defer c.wg.Done()

	execCtx, cancel := context.WithTimeout(ctx, c.ackTimeout)
	defer cancel()

	outcome, err := c.exec.Execute(execCtx, intent)
	switch {
	case err != nil && execCtx.Err() != nil:
		outcome = models.Outcome{IntentID: intent.ID, Status: models.OutcomeTimeout, Reason: "ack timeout"}
		c.log.WithFields(logger.Fields{"intent_id": intent.ID}).Warn("executor did not acknowledge in time")
	case err != nil:
		outcome = models.Outcome{IntentID: intent.ID, Status: models.OutcomeRejected, Reason: err.Error()}
		c.log.WithError(err).WithFields(logger.Fields{"intent_id": intent.ID}).Error("execution failed")
	}
	c.gate.Complete(intent, outcome)
}
