package upstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/session"
)

// cacheTTL is the §4.4 reuse window: a cacheKey hit within this long since
// its timestamp is returned without a network round-trip.
const cacheTTL = 5 * time.Minute

// Client is the C4 single-call RPC client: it knows how to reach the one
// configured core-banking aggregator endpoint with a colon-tuple body and
// decode the response, regardless of which service is requested.
type Client struct {
	httpClient *http.Client
	apiURL     string
	cfg        Config
	log        zerolog.Logger
}

// New builds a Client against the single aggregator URL apiURL. connect
// bounds TCP connection establishment; timeout bounds the whole round-trip,
// per §5's separate connect/overall timeout knobs.
func New(apiURL string, cfg Config, timeout, connect time.Duration, log zerolog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connect}).DialContext,
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		apiURL:     apiURL,
		cfg:        cfg,
		log:        log.With().Str("component", "upstream").Logger(),
	}
}

// cacheEntry is what gets stored under a session's api_cache_{cacheKey}
// slot: the envelope plus the moment it was cached.
type cacheEntry struct {
	Envelope  Envelope  `json:"envelope"`
	Timestamp time.Time `json:"timestamp"`
}

// Call issues one request to the aggregator per §4.3/§4.4: serviceName
// becomes the FORMID tuple, extra carries any service-specific fields, and
// the whole tuple set is sent as a single HTTP GET
// `{ELMA_API_URL}?b={urlEncoded(colonTuples)}`. If cacheKey is non-empty and
// forceRefresh is false, a cached envelope younger than five minutes is
// returned without a network call; a fresh successful envelope is cached
// back under the same key. access may be nil when the call is uncached.
func (c *Client) Call(ctx context.Context, serviceName string, sess *session.Session, extra string, access *session.Access, cacheKey string, forceRefresh bool) (Envelope, error) {
	if cacheKey != "" && !forceRefresh && access != nil {
		var entry cacheEntry
		if ok, err := access.Grab(ctx, cacheSlot(cacheKey), &entry); err == nil && ok {
			if time.Since(entry.Timestamp) < cacheTTL {
				return entry.Envelope, nil
			}
		}
	}

	base := BuildBaseFields(c.cfg, sess, serviceName)
	body := Encode(base, extra)

	reqURL := c.apiURL + "?b=" + url.QueryEscape(body)
	c.log.Debug().Str("service", serviceName).Str("request", MaskForLog(body)).Msg("upstream call")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "build request(%s)", serviceName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("service", serviceName).Msg("upstream call failed")
		return Envelope{Retry: true}, errors.Wrapf(err, "call upstream(%s)", serviceName)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "read response(%s)", serviceName)
	}
	if resp.StatusCode >= 500 {
		return Envelope{Retry: true}, errors.Errorf("upstream(%s) returned status %d", serviceName, resp.StatusCode)
	}

	env := DecodeResponse(string(raw))
	c.log.Debug().Str("service", serviceName).Str("response", MaskForLog(string(raw))).Bool("success", env.Success).Msg("upstream reply")

	if cacheKey != "" && env.Success && access != nil {
		entry := cacheEntry{Envelope: env, Timestamp: time.Now()}
		if err := access.Store(ctx, cacheSlot(cacheKey), entry); err != nil {
			c.log.Error().Err(err).Str("cacheKey", cacheKey).Msg("persist upstream cache failed")
		}
	}
	return env, nil
}

func cacheSlot(cacheKey string) string {
	return "api_cache_" + cacheKey
}

// GetCustomer resolves the customer profile for the session's MSISDN,
// cached under customer_{msisdn}. It is the first call made on any fresh,
// unauthenticated session.
func (c *Client) GetCustomer(ctx context.Context, sess *session.Session, access *session.Access, forceRefresh bool) (Envelope, error) {
	return c.Call(ctx, "GETCUSTOMER", sess, "", access, "customer_"+sess.MSISDN, forceRefresh)
}

// Login validates a PIN against the session's customer. Uncached: a stale
// login result must never be replayed.
func (c *Client) Login(ctx context.Context, sess *session.Session, pin string) (Envelope, error) {
	cid := ""
	if sess.CustomerData != nil {
		cid = sess.CustomerData.CustomerID
	}
	extra := fmt.Sprintf("LOGINMPIN:%s:CUSTOMERID:%s:", pin, cid)
	return c.Call(ctx, "LOGIN", sess, extra, nil, "", false)
}

// Balance fetches the balance for one account via the "B-" service, per
// §4.4/§4.6's literal field shape. Uncached.
func (c *Client) Balance(ctx context.Context, sess *session.Session, accountID string) (Envelope, error) {
	cid := ""
	if sess.CustomerData != nil {
		cid = sess.CustomerData.CustomerID
	}
	extra := fmt.Sprintf("MERCHANTID:BALANCE:BANKACCOUNTID:%s:CUSTOMERID:%s:MOBILENUMBER:%s:", accountID, cid, sess.MSISDN)
	return c.Call(ctx, "B-", sess, extra, nil, "", false)
}

// MiniStatement fetches the last N transactions for one account. Uncached.
func (c *Client) MiniStatement(ctx context.Context, sess *session.Session, accountID string) (Envelope, error) {
	extra := "ACCOUNTID:" + accountID + ":"
	return c.Call(ctx, "MINISTATEMENT", sess, extra, nil, "", false)
}

// AirtimePurchase buys amount of airtime for mobileNumber, paid from
// bankAccountID, routed to the network's merchantID, authorized by pin.
// §4.4 requires the paybill action marker and keeps the merchant id and the
// paying bank account distinct. Uncached.
func (c *Client) AirtimePurchase(ctx context.Context, sess *session.Session, merchantID, bankAccountID, mobileNumber, amount, pin string) (Envelope, error) {
	extra := fmt.Sprintf("ACTION:PAYBILL:MERCHANTID:%s:BANKACCOUNTID:%s:MOBILENUMBER:%s:AMOUNT:%s:TRXMPIN:%s:",
		merchantID, bankAccountID, mobileNumber, amount, pin)
	return c.Call(ctx, "AIRTIMEPURCHASE", sess, extra, nil, "", false)
}

// Healthy reports whether the aggregator responds to a HEAD probe within 2
// seconds. The gateway's /healthz handler does not call it.
func (c *Client) Healthy(ctx context.Context) bool {
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(sctx, http.MethodHead, c.apiURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("upstream health probe failed")
		return false
	}
	resp.Body.Close()
	return true
}
