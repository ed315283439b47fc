package bus

import (
	"fmt"
	"strings"

	"github.com/reideval/reid-eval/internal/config"
	"github.com/reideval/reid-eval/internal/pkg/errors"
	"github.com/reideval/reid-eval/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When
// cfg.EventLog is set every published event is also appended to that file.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	if log == nil {
		log = logger.Default()
	}

	var b Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus().WithLogger(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "reid-eval"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "reid-eval-bus",
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog == "" {
		return b, nil
	}

	el, err := NewEventLogger(cfg.EventLog)
	if err != nil {
		b.Close()
		return nil, err
	}
	return NewLoggedBus(b, el, log), nil
}
