package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"satslink/linkclient"
)

var _ linkclient.Recorder = (*PromIndicators)(nil)

type IndicatorsTestSuite struct {
	suite.Suite
	reg        *prometheus.Registry
	indicators *PromIndicators
}

func (suite *IndicatorsTestSuite) SetupTest() {
	suite.reg = prometheus.NewRegistry()
	suite.indicators = NewPromIndicators("local", suite.reg)
}

func (suite *IndicatorsTestSuite) Test_ObserveCall() {
	suite.indicators.ObserveCall("ledger", "icrc1_transfer", "ok", 0.25)
	suite.indicators.ObserveCall("ledger", "icrc1_transfer", "ok", 0.5)
	suite.indicators.ObserveCall("ledger", "icrc1_transfer", "error", 1)

	assert.Equal(suite.T(), 2.0, testutil.ToFloat64(suite.indicators.callTotal.WithLabelValues("ledger", "icrc1_transfer", "ok")))
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.indicators.callTotal.WithLabelValues("ledger", "icrc1_transfer", "error")))
	assert.Equal(suite.T(), 1, testutil.CollectAndCount(suite.indicators.callDurationSeconds))
}

func (suite *IndicatorsTestSuite) Test_Gauges() {
	suite.indicators.SetTotalMinted(1234.5)
	suite.indicators.SetCurrentRound(77)
	suite.indicators.SetPoolMembers(12)
	suite.indicators.SetPaymentUsers(3)

	assert.Equal(suite.T(), 1234.5, testutil.ToFloat64(suite.indicators.totalMinted))
	assert.Equal(suite.T(), 77.0, testutil.ToFloat64(suite.indicators.currentRound))
	assert.Equal(suite.T(), 12.0, testutil.ToFloat64(suite.indicators.poolMembers))
	assert.Equal(suite.T(), 3.0, testutil.ToFloat64(suite.indicators.paymentUsers))
}

func TestIndicatorsTestSuite(t *testing.T) {
	suite.Run(t, new(IndicatorsTestSuite))
}
