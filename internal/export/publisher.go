package export

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"nettally/internal/config"
	"nettally/internal/model"
)

// Publisher pushes each persisted flush batch onto a NATS subject as JSON,
// so downstream consumers can follow traffic live without polling the
// database.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to the configured NATS server.
func NewPublisher(cfg config.ExportConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes a flush batch and publishes it to the configured subject.
func (p *Publisher) Publish(batch model.FlushBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
