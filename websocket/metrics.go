// Package websocket - CloudWatch metrics for the scoring coordinator.
// File: websocket/metrics.go
package websocket

import (
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"

	"go-score-hub/logger"
)

// Namespace for all scoring coordinator metrics.
var metricsNamespace = "ScoreHub"

// MetricsPublisher pushes operational gauges to CloudWatch. Disabled
// publishers are cheap no-ops so tests and local runs need no AWS config.
type MetricsPublisher struct {
	enabled bool
	cw      *cloudwatch.CloudWatch
}

// NewMetricsPublisher builds a publisher; when enabled it reuses a single
// CloudWatch client for all calls.
func NewMetricsPublisher(enabled bool) *MetricsPublisher {
	m := &MetricsPublisher{enabled: enabled}
	if enabled {
		m.cw = cloudwatch.New(session.Must(session.NewSession()))
	}
	return m
}

// PublishJudgeConnections pushes the live judge connection count for a session.
func (m *MetricsPublisher) PublishJudgeConnections(count int, sessionID string) {
	m.putMetric("JudgeConnections", float64(count), "Count", sessionID)
}

// PublishConflictDetected counts a cross-judge conflict requiring escalation.
func (m *MetricsPublisher) PublishConflictDetected(sessionID string) {
	m.putMetric("ConflictsDetected", 1, "Count", sessionID)
}

// PublishPersistFailure counts a withheld acknowledgment due to store failure.
func (m *MetricsPublisher) PublishPersistFailure(sessionID string) {
	m.putMetric("PersistFailures", 1, "Count", sessionID)
}

// PublishBroadcastDrop counts a broadcast dropped on a full send buffer.
func (m *MetricsPublisher) PublishBroadcastDrop(sessionID string) {
	m.putMetric("BroadcastDrops", 1, "Count", sessionID)
}

func (m *MetricsPublisher) putMetric(metricName string, value float64, unit string, sessionID string) {
	if !m.enabled {
		return
	}
	_, err := m.cw.PutMetricData(&cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricsNamespace),
		MetricData: []*cloudwatch.MetricDatum{
			{
				MetricName: aws.String(metricName),
				Dimensions: []*cloudwatch.Dimension{
					{
						Name:  aws.String("SessionId"),
						Value: aws.String(sessionID),
					},
				},
				Timestamp: aws.Time(time.Now()),
				Value:     aws.Float64(value),
				Unit:      aws.String(unit),
			},
		},
	})
	if err != nil {
		logger.Error.Printf("[putMetric] CloudWatch metric failed (%s): %v", metricName, err)
	}
}
