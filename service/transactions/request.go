package transactions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/KAsare1/trx-gateway/cmd/models"
)

var exit = os.Exit

// writeRequest is the body of POST /write. Older clients send the key as
// "timeuuid"; it is used only when trx_id is absent.
type writeRequest struct {
	TrxID     string    `json:"trx_id"`
	TimeUUID  string    `json:"timeuuid"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Email     string    `json:"email"`
	Price     flexPrice `json:"price"`
	ProdDesc  string    `json:"prod_desc"`
}

func (req writeRequest) transaction() *models.Transaction {
	id := req.TrxID
	if id == "" {
		id = req.TimeUUID
	}
	return &models.Transaction{
		TrxID:     id,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Email:     req.Email,
		Price:     req.Price.value,
		ProdDesc:  req.ProdDesc,
	}
}

// flexPrice accepts a JSON number, a numeric string, or null. An empty
// string is treated as null. NaN and infinities are rejected.
type flexPrice struct {
	value *float64
}

func (p *flexPrice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		p.value = nil
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			p.value = nil
			return nil
		}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("price %s is not a number", data)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("price %s is not a finite number", data)
	}
	p.value = &f
	return nil
}
