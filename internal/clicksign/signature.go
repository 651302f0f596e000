// Package clicksign computes and checks the MD5 sign_string Click attaches to
// every prepare and complete callback.
package clicksign

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

// Sign returns the hex MD5 over click_trans_id, service_id, secret_key,
// merchant_trans_id, merchant_prepare_id (complete only), amount, action and
// sign_time, concatenated in that order.
func Sign(secretKey string, req *models.ClickRequest) string {
	var b strings.Builder
	b.WriteString(req.ClickTransID.String())
	b.WriteString(req.ServiceID.String())
	b.WriteString(secretKey)
	b.WriteString(req.MerchantTransID.String())
	if req.Action.String() == strconv.Itoa(models.ClickActionComplete) {
		b.WriteString(req.MerchantPrepareID.String())
	}
	b.WriteString(req.Amount.String())
	b.WriteString(req.Action.String())
	b.WriteString(req.SignTime.String())

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func Verify(secretKey string, req *models.ClickRequest) bool {
	expected := Sign(secretKey, req)
	got := strings.ToLower(req.SignString.String())
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
