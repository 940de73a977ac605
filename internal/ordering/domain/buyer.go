package domain

import (
	"time"

	"github.com/akriventsev/ordering/framework/core"
)

// PaymentMethod способ оплаты покупателя. Карта известна только по ссылке
// из платежного шлюза.
type PaymentMethod struct {
	ID            string    `json:"id" bson:"id"`
	CardReference string    `json:"card_reference" bson:"card_reference"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// Buyer покупатель и его способы оплаты
type Buyer struct {
	BuyerID        string          `json:"id" bson:"_id"`
	PaymentMethods []PaymentMethod `json:"payment_methods" bson:"payment_methods"`
	Rev            int64           `json:"version" bson:"version"`
}

// NewBuyer создает покупателя без способов оплаты
func NewBuyer(id string) (*Buyer, error) {
	if id == "" {
		return nil, core.NewError(core.ErrValidationFailed, "buyer id is required")
	}
	return &Buyer{BuyerID: id}, nil
}

// ID возвращает идентификатор покупателя
func (b *Buyer) ID() string {
	return b.BuyerID
}

// Version возвращает версию покупателя
func (b *Buyer) Version() int64 {
	return b.Rev
}

// Clone возвращает глубокую копию покупателя
func (b *Buyer) Clone() *Buyer {
	if b == nil {
		return nil
	}
	c := *b
	c.PaymentMethods = append([]PaymentMethod(nil), b.PaymentMethods...)
	return &c
}

// VerifyOrAddPaymentMethod находит способ оплаты по ссылке на карту или добавляет новый
// с идентификатором от newID. added сообщает, что покупатель изменился.
func (b *Buyer) VerifyOrAddPaymentMethod(cardReference string, newID func() string, now time.Time) (method PaymentMethod, added bool) {
	for _, m := range b.PaymentMethods {
		if m.CardReference == cardReference {
			return m, false
		}
	}
	method = PaymentMethod{ID: newID(), CardReference: cardReference, CreatedAt: now.UTC()}
	b.PaymentMethods = append(b.PaymentMethods, method)
	return method, true
}
