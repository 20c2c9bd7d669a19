package ecoflow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Credentials is the one-time bundle returned by the certification endpoint,
// used to open the MQTT stream session. Not reusable across sessions.
type Credentials struct {
	Username string // certificateAccount
	Password string // certificatePassword
	Host     string // broker host
	Port     int    // broker port, usually 8883
	Protocol string // usually "mqtts"
}

// RestClient talks to the EcoFlow developer REST API using HMAC-SHA256
// signed requests.
type RestClient struct {
	apiHost   string
	accessKey string
	secretKey string
	http      *http.Client
	logger    *zap.Logger
}

type apiEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func NewRestClient(apiHost, accessKey, secretKey string, logger *zap.Logger) *RestClient {
	return &RestClient{
		apiHost:   apiHost,
		accessKey: accessKey,
		secretKey: secretKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(zap.String("component", "restclient")),
	}
}

// GetMQTTCredentials calls GET /iot-open/sign/certification to obtain the
// broker credential bundle.
func (c *RestClient) GetMQTTCredentials(ctx context.Context) (*Credentials, error) {
	data, err := c.signedGet(ctx, "/iot-open/sign/certification", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		CertificateAccount  string `json:"certificateAccount"`
		CertificatePassword string `json:"certificatePassword"`
		URL                 string `json:"url"`
		Port                any    `json:"port"`
		Protocol            string `json:"protocol"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode certification response: %w", err)
	}
	// the API has served the port both as a string and as a number
	port := coerceInt(body.Port)
	if port == nil {
		return nil, fmt.Errorf("invalid broker port %v", body.Port)
	}
	protocol := body.Protocol
	if protocol == "" {
		protocol = "mqtts"
	}
	return &Credentials{
		Username: body.CertificateAccount,
		Password: body.CertificatePassword,
		Host:     body.URL,
		Port:     *port,
		Protocol: protocol,
	}, nil
}

// GetDeviceQuota calls GET /iot-open/sign/device/quota/all and returns the
// current device properties as a flat dotted-key mapping, the same shape the
// stream cache uses.
func (c *RestClient) GetDeviceQuota(ctx context.Context, deviceSN string) (map[string]any, error) {
	data, err := c.signedGet(ctx, "/iot-open/sign/device/quota/all", map[string]string{"sn": deviceSN})
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode quota response: %w", err)
	}
	return Flatten(doc), nil
}

func (c *RestClient) signedGet(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	reqURL := c.apiHost + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	nonce := strconv.Itoa(100000 + rand.IntN(900000))
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	for k, v := range signHeaders(c.accessKey, c.secretKey, nonce, timestamp, params) {
		req.Header.Set(k, v)
	}

	c.logger.Debug("api request", zap.String("url", reqURL))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api request %s: unexpected status %s", path, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}
	if envelope.Code != "0" {
		return nil, fmt.Errorf("api error (code=%s): %s", envelope.Code, envelope.Message)
	}
	return envelope.Data, nil
}

// signHeaders builds the signed headers required by every API call. The
// signature covers all request parameters sorted alphabetically, followed by
// the accessKey, nonce and timestamp meta-fields.
func signHeaders(accessKey, secretKey, nonce, timestamp string, params map[string]string) map[string]string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	signStr := ""
	for _, k := range keys {
		signStr += k + "=" + params[k] + "&"
	}
	signStr += "accessKey=" + accessKey + "&nonce=" + nonce + "&timestamp=" + timestamp

	return map[string]string{
		"accessKey": accessKey,
		"nonce":     nonce,
		"timestamp": timestamp,
		"sign":      hmacSHA256Hex(signStr, secretKey),
	}
}

func hmacSHA256Hex(data, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
