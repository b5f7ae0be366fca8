package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	sms "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/sms/v20210111"

	"github.com/smsauth/smsauth/internal/logging"
)

const (
	tencentEndpoint = "sms.tencentcloudapi.com"
	tencentStatusOK = "Ok"
)

// TencentConfig holds the Tencent Cloud SMS credentials and template.
type TencentConfig struct {
	SecretID   string
	SecretKey  string
	SDKAppID   string
	SignName   string
	TemplateID string
	Region     string
}

type smsSender interface {
	SendSmsWithContext(ctx context.Context, request *sms.SendSmsRequest) (*sms.SendSmsResponse, error)
}

// TencentGateway sends codes through Tencent Cloud SMS. The template takes two
// parameters: the code and its lifetime in minutes.
type TencentGateway struct {
	client smsSender
	cfg    TencentConfig
	logger *slog.Logger
}

// NewTencentGateway builds a gateway backed by the Tencent Cloud SDK client.
func NewTencentGateway(cfg TencentConfig, logger *slog.Logger) (*TencentGateway, error) {
	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = tencentEndpoint

	client, err := sms.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("init tencent sms client: %w", err)
	}
	return &TencentGateway{client: client, cfg: cfg, logger: logger}, nil
}

// Send dispatches one SMS. Only an "Ok" status on the first recipient counts
// as delivered.
func (g *TencentGateway) Send(ctx context.Context, phoneE164, code string, ttlMinutes int) (Result, error) {
	req := sms.NewSendSmsRequest()
	req.SmsSdkAppId = common.StringPtr(g.cfg.SDKAppID)
	req.SignName = common.StringPtr(g.cfg.SignName)
	req.TemplateId = common.StringPtr(g.cfg.TemplateID)
	req.PhoneNumberSet = common.StringPtrs([]string{phoneE164})
	req.TemplateParamSet = common.StringPtrs([]string{code, strconv.Itoa(ttlMinutes)})

	resp, err := g.client.SendSmsWithContext(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("tencent send sms: %w", err)
	}
	if resp == nil || resp.Response == nil {
		return Result{}, fmt.Errorf("tencent send sms: empty response")
	}

	ref := deref(resp.Response.RequestId)
	if len(resp.Response.SendStatusSet) == 0 || resp.Response.SendStatusSet[0] == nil {
		g.logger.Error("tencent sms response without status", slog.String("request_id", ref))
		return Result{ProviderRef: ref}, fmt.Errorf("%w: no send status", ErrRejected)
	}

	status := resp.Response.SendStatusSet[0]
	statusCode := deref(status.Code)
	if statusCode != tencentStatusOK {
		g.logger.Error("tencent sms rejected",
			slog.String("request_id", ref),
			slog.String("destination", logging.MaskPhone(phoneE164)),
			slog.String("code", statusCode),
			slog.String("message", deref(status.Message)),
		)
		return Result{ProviderRef: ref}, fmt.Errorf("%w: %s", ErrRejected, statusCode)
	}

	g.logger.Info("tencent sms sent",
		slog.String("request_id", ref),
		slog.String("destination", logging.MaskPhone(phoneE164)),
	)
	return Result{ProviderRef: ref}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
