package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

func TestReportFilterMatchesDocumentKeys(t *testing.T) {
	report := models.DailyReport{OwnerID: "owner-1", Date: "2026-03-02", Mortality: 3, CreatedAt: time.Unix(0, 0).UTC()}

	raw, err := bson.Marshal(report)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))

	for _, elem := range reportFilter(report.OwnerID, report.Date) {
		assert.Equal(t, elem.Value, doc[elem.Key], elem.Key)
	}
}
