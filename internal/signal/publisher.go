package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// MessageWriter is the transport boundary, satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards risk assessments at or above a minimum level to a kafka
// topic for the downstream signal layer. Publishing is best effort and never
// blocks the event path.
type Publisher struct {
	config   *appconfig.Config
	writer   MessageWriter
	minLevel models.RiskLevel
	queue    chan models.CascadeRiskAssessment
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// NewPublisher builds the kafka publisher. Returns an error when the signal
// layer is enabled but no brokers are configured.
func NewPublisher(cfg *appconfig.Config) (*Publisher, error) {
	if len(cfg.Signal.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	minLevel := models.RiskHigh
	if lvl, ok := models.ParseRiskLevel(cfg.Signal.MinLevel); ok {
		minLevel = lvl
	}

	p := &Publisher{
		config: cfg,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Signal.Brokers...),
			Topic:    cfg.Signal.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		minLevel: minLevel,
		queue:    make(chan models.CascadeRiskAssessment, 256),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}

	p.log.WithComponent("signal_publisher").WithFields(logger.Fields{
		"brokers":   cfg.Signal.Brokers,
		"topic":     cfg.Signal.Topic,
		"min_level": minLevel.String(),
	}).Debug("signal publisher initialized")
	return p, nil
}

// Start launches the publish worker.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("signal publisher already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.log.WithComponent("signal_publisher").Debug("starting signal publisher")

	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop closes the transport and waits for the worker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("signal_publisher").Debug("stopping signal publisher")
	p.cancel()
	p.wg.Wait()
	p.writer.Close()
	p.log.WithComponent("signal_publisher").Debug("signal publisher stopped")
}

// Publish queues an assessment for delivery when it meets the minimum level.
// Never blocks; on a full queue the assessment is dropped with a warning.
func (p *Publisher) Publish(assessment models.CascadeRiskAssessment) {
	if assessment.RiskLevel < p.minLevel {
		return
	}
	select {
	case p.queue <- assessment:
	default:
		p.log.WithComponent("signal_publisher").WithFields(logger.Fields{
			"symbol":     assessment.Symbol,
			"risk_level": assessment.RiskLevel.String(),
		}).Warn("signal queue full, dropping assessment")
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case assessment, ok := <-p.queue:
			if !ok {
				return
			}
			data, err := json.Marshal(assessment)
			if err != nil {
				p.log.WithComponent("signal_publisher").WithError(err).Warn("failed to marshal assessment")
				continue
			}
			msg := kafka.Message{
				Key:   []byte(assessment.Symbol),
				Value: data,
			}
			if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
				p.log.WithComponent("signal_publisher").WithError(err).Warn("failed to publish assessment")
			} else {
				p.log.WithComponent("signal_publisher").WithFields(logger.Fields{
					"symbol":     assessment.Symbol,
					"risk_level": assessment.RiskLevel.String(),
					"risk_score": assessment.RiskScore,
				}).Debug("assessment published")
			}
		}
	}
}
