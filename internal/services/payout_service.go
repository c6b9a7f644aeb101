package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/greenvest/backend/internal/config"
	"github.com/greenvest/backend/internal/models"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

// PayoutService emits ISO 20022 pacs.008 credit transfer instructions for
// completed withdrawals. Amounts cross the wire in major currency units.
type PayoutService struct {
	cfg *config.WalletConfig
}

func NewPayoutService(cfg *config.WalletConfig) *PayoutService {
	return &PayoutService{cfg: cfg}
}

// SendPayout builds and dispatches the payout instruction for a completed
// withdrawal request. Failures are reported to the caller but never undo
// the completed ledger state; the instruction can be replayed.
func (p *PayoutService) SendPayout(req *models.WithdrawalRequest) error {
	doc, err := p.BuildPacs008(req)
	if err != nil {
		return err
	}
	return p.dispatch(doc)
}

// BuildPacs008 creates a pacs.008 FIToFICustomerCreditTransfer for a
// withdrawal payout. The withdrawal request id rides as the end-to-end id
// so the settlement rail can be reconciled back to the ledger.
func (p *PayoutService) BuildPacs008(req *models.WithdrawalRequest) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: payout amount must be positive", ErrValidation)
	}

	msgID := uuid.New().String()
	now := time.Now()
	amount := float64(req.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("EUR"),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(msgID)}[0],
					EndToEndId: common.Max35Text(req.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(req.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode("EUR"),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(p.cfg.PayoutBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.AccountID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(models.MaskDestination(req.Destination)),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("Withdrawal " + req.ID)}[0],
				},
			},
		},
	}

	return doc, nil
}

func (p *PayoutService) dispatch(doc *pacs_v08.FIToFICustomerCreditTransferV08) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal pacs.008: %v", ErrPersistence, err)
	}

	// TODO: replace with the settlement rail client once the clearing
	// partner's endpoint is provisioned.
	log.Printf("[PAYOUT] Dispatching pacs.008 (%d bytes): msg %s", len(xmlData), doc.GrpHdr.MsgId)
	return nil
}
