package tdx

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/go-tdx-guest/abi"
	"github.com/google/go-tdx-guest/client"
	proto_checkconfig "github.com/google/go-tdx-guest/proto/checkconfig"
	proto "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/validate"
	"github.com/google/go-tdx-guest/verify"
)

const defaultRemoteTimeout = 10 * time.Second

// Intel's QE vendor id and the TD attributes enclave executors must run with.
var (
	intelQeVendorID      = mustDecodeHex("939a7233f79c4ca9940a0db3957f0607")
	expectedTdAttributes = mustDecodeHex("0000001000000000")
)

// TDXProvider quotes through the local configfs-tsm interface.
type TDXProvider struct{}

func (p *TDXProvider) AttestationType() string {
	return "dcap-tdx"
}

func (p *TDXProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &client.LinuxConfigFsQuoteProvider{}
	quote, err := qp.GetRawQuote(reportData)
	if err != nil {
		return nil, fmt.Errorf("getting local quote: %w", err)
	}
	return quote, nil
}

func (p *TDXProvider) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	return VerifyDCAP(attestationReport, expectedReportData[:])
}

// RemoteDCAPProvider fetches quotes from an attestation sidecar
// (GET {URL}/attest/{hex report data}) and verifies them locally.
type RemoteDCAPProvider struct {
	URL     string
	Timeout time.Duration

	httpClient *http.Client
}

func NewRemoteDCAPProvider(url string, timeout time.Duration) *RemoteDCAPProvider {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteDCAPProvider{
		URL:        url,
		Timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *RemoteDCAPProvider) AttestationType() string {
	return "dcap-tdx"
}

func (p *RemoteDCAPProvider) Attest(reportData [64]byte) ([]byte, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.AttestContext(ctx, reportData)
}

// AttestContext is Attest bounded by ctx.
func (p *RemoteDCAPProvider) AttestContext(ctx context.Context, reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.URL, hex.EncodeToString(reportData[:]))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}

	httpClient := p.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	if len(rawQuote) == 0 {
		return nil, errors.New("remote quote provider returned an empty quote")
	}
	return rawQuote, nil
}

func (p *RemoteDCAPProvider) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	return VerifyDCAP(attestationReport, expectedReportData[:])
}

func mustDecodeHex(data string) []byte {
	decoded, err := hex.DecodeString(data)
	if err != nil {
		panic(err.Error())
	}
	return decoded
}

// VerifyDCAP checks a QuoteV4 against Intel's root of trust and the executor
// policy, and returns MRTD and RTMR0-3 keyed by register index.
func VerifyDCAP(attestationReport []byte, expectedReportData []byte) (map[int][]byte, error) {
	anyQuote, err := abi.QuoteToProto(attestationReport)
	if err != nil {
		return nil, fmt.Errorf("could not convert raw bytes to QuoteV4: %v", err)
	}
	quote, ok := anyQuote.(*proto.QuoteV4)
	if !ok {
		return nil, errors.New("quote is not a QuoteV4")
	}

	config := &proto_checkconfig.Config{
		RootOfTrust: &proto_checkconfig.RootOfTrust{
			CheckCrl:      true,
			GetCollateral: true,
		},
		Policy: &proto_checkconfig.Policy{
			HeaderPolicy: &proto_checkconfig.HeaderPolicy{
				QeVendorId: intelQeVendorID,
			},
			TdQuoteBodyPolicy: &proto_checkconfig.TDQuoteBodyPolicy{
				TdAttributes: expectedTdAttributes,
				ReportData:   expectedReportData,
			},
		},
	}

	options, err := verify.RootOfTrustToOptions(config.RootOfTrust)
	if err != nil {
		return nil, fmt.Errorf("converting root of trust to options: %w", err)
	}
	if err := verify.TdxQuote(quote, options); err != nil {
		return nil, fmt.Errorf("verifying TDX quote: %w", err)
	}

	opts, err := validate.PolicyToOptions(config.Policy)
	if err != nil {
		return nil, fmt.Errorf("converting policy to options: %v", err)
	}
	if err := validate.TdxQuote(quote, opts); err != nil {
		return nil, fmt.Errorf("validating TDX quote: %v", err)
	}

	body := quote.GetTdQuoteBody()
	if len(body.GetRtmrs()) < 4 {
		return nil, errors.New("quote carries fewer than 4 RTMRs")
	}
	return map[int][]byte{
		RegisterMRTD:  body.GetMrTd(),
		RegisterRTMR0: body.GetRtmrs()[0],
		RegisterRTMR1: body.GetRtmrs()[1],
		RegisterRTMR2: body.GetRtmrs()[2],
		RegisterRTMR3: body.GetRtmrs()[3],
	}, nil
}
