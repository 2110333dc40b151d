// ABOUTME: Flow rule installation against the SDN controller's REST API
// ABOUTME: Plus the static host table used when discovery is not wired in

package pathselect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTInstaller posts flow rules to the SDN controller's flows endpoint.
type RESTInstaller struct {
	baseURL string
	appID   string
	user    string
	pass    string
	client  *http.Client
}

func NewRESTInstaller(baseURL, appID, user, pass string, client *http.Client) *RESTInstaller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTInstaller{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		appID:   appID,
		user:    user,
		pass:    pass,
		client:  client,
	}
}

// flowEntry mirrors the controller's flow-rule JSON schema.
type flowEntry struct {
	Priority    int    `json:"priority"`
	Timeout     int    `json:"timeout"`
	IsPermanent bool   `json:"isPermanent"`
	DeviceID    string `json:"deviceId"`
	Treatment   struct {
		Instructions []map[string]interface{} `json:"instructions"`
	} `json:"treatment"`
	Selector struct {
		Criteria []map[string]interface{} `json:"criteria"`
	} `json:"selector"`
}

func (r *RESTInstaller) Install(rules []FlowRule) error {
	payload := struct {
		Flows []flowEntry `json:"flows"`
	}{}

	for _, rule := range rules {
		e := flowEntry{
			Priority: rule.Priority,
			Timeout:  rule.IdleTimeout,
			DeviceID: rule.DeviceID,
		}
		e.Treatment.Instructions = []map[string]interface{}{
			{"type": "OUTPUT", "port": rule.OutPort},
		}
		e.Selector.Criteria = criteriaFor(rule.Key)
		payload.Flows = append(payload.Flows, e)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling flow rules: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/onos/v1/flows?appId=%s", r.baseURL, r.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building flow install request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.user != "" {
		req.SetBasicAuth(r.user, r.pass)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting flow rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("flow install returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func criteriaFor(k FlowKey) []map[string]interface{} {
	criteria := []map[string]interface{}{
		{"type": "ETH_TYPE", "ethType": "0x0800"},
		{"type": "IPV4_SRC", "ip": k.SrcIP + "/32"},
		{"type": "IPV4_DST", "ip": k.DstIP + "/32"},
		{"type": "IP_PROTO", "protocol": k.Proto},
	}
	switch k.Proto {
	case ProtoTCP:
		criteria = append(criteria,
			map[string]interface{}{"type": "TCP_SRC", "tcpPort": k.SrcPort},
			map[string]interface{}{"type": "TCP_DST", "tcpPort": k.DstPort})
	case ProtoUDP:
		criteria = append(criteria,
			map[string]interface{}{"type": "UDP_SRC", "udpPort": k.SrcPort},
			map[string]interface{}{"type": "UDP_DST", "udpPort": k.DstPort})
	case ProtoICMP:
		criteria = append(criteria,
			map[string]interface{}{"type": "ICMPV4_TYPE", "icmpType": k.SrcPort},
			map[string]interface{}{"type": "ICMPV4_CODE", "icmpCode": k.DstPort})
	}
	return criteria
}

// StaticHostTable is a fixed MAC-to-location map.
type StaticHostTable map[string]Host

func (t StaticHostTable) HostByMAC(mac string) (Host, bool) {
	h, ok := t[strings.ToLower(mac)]
	return h, ok
}
