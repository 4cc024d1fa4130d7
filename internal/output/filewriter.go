// Package output writes a line of flow metadata to a file for every
// exported flow, independent of the IPFIX wire export. Grounded on the
// teacher's FileWriter (per-packet logrus sink to a file), generalised
// from one packet to one finished flow record.
package output

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
)

// FlowWriter appends one structured log line per exported flow, useful
// for debugging an export pipeline without a real IPFIX collector.
type FlowWriter struct {
	logger  *logrus.Logger
	enabled bool
}

// NewFlowWriter opens outputFile for append and returns a FlowWriter. If
// enabled is false or outputFile is empty, the returned writer's
// WriteFlow becomes a no-op.
func NewFlowWriter(enabled bool, outputFile, format string) (*FlowWriter, error) {
	if !enabled || outputFile == "" {
		return &FlowWriter{enabled: false}, nil
	}

	log := logrus.New()
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(file)
	log.SetLevel(logrus.InfoLevel)

	return &FlowWriter{logger: log, enabled: true}, nil
}

// WriteFlow logs rec's key fields and end reason.
func (w *FlowWriter) WriteFlow(rec *flow.Record) {
	if !w.enabled {
		return
	}

	fields := logrus.Fields{
		"protocol":    rec.Protocol,
		"src_ip":      rec.SrcIP.String(),
		"dst_ip":      rec.DstIP.String(),
		"src_port":    rec.SrcPort,
		"dst_port":    rec.DstPort,
		"src_packets": rec.SrcPackets,
		"src_bytes":   rec.SrcBytes,
		"dst_packets": rec.DstPackets,
		"dst_bytes":   rec.DstBytes,
		"end_reason":  rec.EndReason.String(),
	}
	for _, ext := range rec.Extensions() {
		fields["ext"] = ext.Text()
	}

	w.logger.WithFields(fields).Info("flow")
}

// Close is a no-op; the underlying file is closed when the process exits.
func (w *FlowWriter) Close() error {
	return nil
}
