package upstream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

func TestParseTuplesDropsDanglingKey(t *testing.T) {
	got := upstream.ParseTuples("STATUS:000:CODE:")
	assert.Equal(t, map[string]string{"STATUS": "000", "CODE": ""}, got)

	got = upstream.ParseTuples("STATUS:000:DANGLING")
	assert.Equal(t, map[string]string{"STATUS": "000"}, got)
}

func TestEncodeSortsKeysAndDropsEmptyExtra(t *testing.T) {
	base := map[string]string{"BANKID": "1", "FORMID": "LOGIN"}
	got := upstream.Encode(base, "MOBILENUMBER:254700111222:FORMID:")
	assert.Equal(t, "BANKID:1:MOBILENUMBER:254700111222:", got)
}

func TestEncodeExtraOverridesBase(t *testing.T) {
	base := map[string]string{"FORMID": "HOME"}
	got := upstream.Encode(base, "FORMID:LOGIN:")
	assert.Equal(t, "FORMID:LOGIN:", got)
}

func TestBuildBaseFieldsWithoutCustomer(t *testing.T) {
	sess := &session.Session{MSISDN: "254700111222", SessionID: "S1", Shortcode: "527"}
	fields := upstream.BuildBaseFields(upstream.Config{BankID: "9", BankName: "Acme", Country: "KE", TrxSource: "USSD"}, sess, "HOME")
	assert.Equal(t, "HOME", fields["FORMID"])
	assert.Equal(t, "254700111222527", fields["DEVICEID"])
	assert.NotEmpty(t, fields["UNIQUEID"])
	_, hasCustomer := fields["CUSTOMERID"]
	assert.False(t, hasCustomer)
}

func TestBuildBaseFieldsWithCustomer(t *testing.T) {
	sess := &session.Session{
		MSISDN: "254700111222", SessionID: "S1", Shortcode: "527",
		CustomerData: &session.CustomerData{CustomerID: "CUST1", Accounts: []string{"ACC1", "ACC2"}},
	}
	fields := upstream.BuildBaseFields(upstream.Config{}, sess, "BALANCE")
	assert.Equal(t, "CUST1", fields["CUSTOMERID"])
	assert.Equal(t, "ACC1,ACC2", fields["BANKACCOUNTS"])
}

func TestStripTags(t *testing.T) {
	got := upstream.StripTags("<response>STATUS:000:</response>")
	assert.Equal(t, "STATUS:000:", got)
}

func TestDecodeResponseSuccess(t *testing.T) {
	env := upstream.DecodeResponse("STATUS:000:DATA:1500.00:")
	assert.True(t, env.Success)
	assert.Equal(t, "1500.00", env.Data)
	assert.Empty(t, env.Error)
}

func TestDecodeResponseKnownFailureCode(t *testing.T) {
	env := upstream.DecodeResponse("<r>STATUS:091:</r>")
	assert.False(t, env.Success)
	assert.Equal(t, "Invalid PIN", env.Error)
}

func TestDecodeResponseUnknownFailureFallsBackToMessage(t *testing.T) {
	env := upstream.DecodeResponse("STATUS:099:MESSAGE:Backend timeout:")
	assert.False(t, env.Success)
	assert.Equal(t, "Backend timeout", env.Error)
}

func TestDecodeResponseUnknownFailureNoMessage(t *testing.T) {
	env := upstream.DecodeResponse("STATUS:099:")
	assert.False(t, env.Success)
	assert.Equal(t, "Request failed", env.Error)
}

func TestMaskForLogMasksPinAndMsisdn(t *testing.T) {
	got := upstream.MaskForLog("LOGINMPIN:1234:MOBILENUMBER:254700111222:")
	assert.Contains(t, got, "LOGINMPIN:[MASKED]:")
	assert.Contains(t, got, "MOBILENUMBER:254****222:")
}

func TestMaskMSISDNShortValueUnchanged(t *testing.T) {
	assert.Equal(t, "527", upstream.MaskMSISDN("527"))
}
