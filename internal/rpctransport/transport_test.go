package rpctransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpointUnhealthyAfterThreeFailures(t *testing.T) {
	ep := &Endpoint{URL: "http://node", healthy: true, lastChecked: time.Now()}

	ep.recordFailure()
	assert.True(t, ep.isHealthy())
	ep.recordFailure()
	assert.True(t, ep.isHealthy())
	ep.recordFailure()
	assert.False(t, ep.isHealthy(), "third consecutive failure must mark the endpoint unhealthy")
}

func TestEndpointRecoversOnSuccess(t *testing.T) {
	ep := &Endpoint{URL: "http://node", healthy: true}
	ep.recordFailure()
	ep.recordFailure()
	ep.recordFailure()
	assert.False(t, ep.isHealthy())

	ep.recordSuccess()
	assert.True(t, ep.isHealthy())
	assert.Equal(t, 0, ep.consecutiveFails)
}

func TestEndpointDueForProbeOnlyWhenUnhealthyAndTimedOut(t *testing.T) {
	ep := &Endpoint{URL: "http://node", healthy: true}
	assert.False(t, ep.dueForProbe(time.Millisecond))

	ep.recordFailure()
	ep.recordFailure()
	ep.recordFailure()
	assert.False(t, ep.dueForProbe(time.Hour))

	ep.unhealthySince = time.Now().Add(-time.Hour)
	assert.True(t, ep.dueForProbe(time.Minute))
}
