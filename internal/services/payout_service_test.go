package services

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/greenvest/backend/internal/config"
	"github.com/greenvest/backend/internal/models"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/stretchr/testify/assert"
)

func TestPayoutService_BuildPacs008(t *testing.T) {
	service := NewPayoutService(&config.WalletConfig{PayoutBIC: "GRNVSTXX", PayoutDelay: 24 * time.Hour})

	req := &models.WithdrawalRequest{
		ID:          "wr-1",
		AccountID:   "acct-1",
		Amount:      30_000,
		Destination: "DE89370400440532013000",
		Status:      models.WithdrawalStatusCompleted,
	}

	t.Run("builds credit transfer with reconciliation ids", func(t *testing.T) {
		doc, err := service.BuildPacs008(req)
		assert.NoError(t, err)

		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Equal(t, 300.0, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)
		assert.Len(t, doc.CdtTrfTxInf, 1)

		txInf := doc.CdtTrfTxInf[0]
		assert.Equal(t, common.Max35Text("wr-1"), txInf.PmtId.EndToEndId)
		assert.Equal(t, 300.0, txInf.IntrBkSttlmAmt.Value)
		assert.Equal(t, common.BICFIDec2014Identifier("GRNVSTXX"), *txInf.DbtrAgt.FinInstnId.BICFI)
	})

	t.Run("document marshals to XML", func(t *testing.T) {
		doc, err := service.BuildPacs008(req)
		assert.NoError(t, err)

		data, err := xml.MarshalIndent(doc, "", "  ")
		assert.NoError(t, err)
		assert.Contains(t, string(data), "wr-1")
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		bad := *req
		bad.Amount = 0
		_, err := service.BuildPacs008(&bad)
		assert.ErrorIs(t, err, ErrValidation)
	})
}
