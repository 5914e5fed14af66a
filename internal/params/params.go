// Package params builds the room parameters returned to browsers on the
// room page and on join: peer connection config and constraints, media
// constraints, collider and TURN endpoints.
package params

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

const (
	DefaultTURNBaseURL = "https://computeengineondemand.appspot.com"
	turnURLTemplate    = "%s/turn?username=%s&key=%s"
	turnUsernameLength = 9
)

// DefaultColliderHostPortPairs are tried in order when no host is configured.
var DefaultColliderHostPortPairs = []string{"apprtc-ws.webrtc.org:443", "apprtc-ws-2.webrtc.org:443"}

type Options struct {
	TURNBaseURL            string
	TURNKey                string
	ColliderHostPortPairs  []string
	BypassJoinConfirmation bool
}

// Request carries the parts of an HTTP request the parameters depend on.
type Request struct {
	Query          url.Values
	Host           string
	UserAgent      string
	ForwardedProto string
}

func (r Request) IsLoopback() bool {
	return r.Query.Get("debug") == "loopback"
}

// Collider holds the endpoints of the message delivery service.
type Collider struct {
	WSSURL     string
	WSSPostURL string
	Host       string
}

type RoomParameters struct {
	ErrorMessages          []string `json:"error_messages"`
	IsLoopback             string   `json:"is_loopback"`
	PCConfig               string   `json:"pc_config"`
	PCConstraints          string   `json:"pc_constraints"`
	OfferConstraints       string   `json:"offer_constraints"`
	MediaConstraints       string   `json:"media_constraints"`
	TURNURL                string   `json:"turn_url,omitempty"`
	TURNTransports         string   `json:"turn_transports,omitempty"`
	IncludeLoopbackJS      string   `json:"include_loopback_js"`
	WSSURL                 string   `json:"wss_url"`
	WSSPostURL             string   `json:"wss_post_url"`
	BypassJoinConfirmation string   `json:"bypass_join_confirmation"`
	RoomID                 string   `json:"room_id,omitempty"`
	RoomLink               string   `json:"room_link,omitempty"`
	ClientID               string   `json:"client_id,omitempty"`
	IsInitiator            string   `json:"is_initiator,omitempty"`
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.TURNBaseURL == "" {
		opts.TURNBaseURL = DefaultTURNBaseURL
	}
	if len(opts.ColliderHostPortPairs) == 0 {
		opts.ColliderHostPortPairs = DefaultColliderHostPortPairs
	}
	return &Builder{opts: opts}
}

// Collider resolves the delivery service endpoints. A wshpp override is
// honoured only when it names one of the configured host:port pairs, since
// messages are posted to the resolved host.
func (b *Builder) Collider(req Request) Collider {
	hostPort := req.Query.Get("wshpp")
	if !lo.Contains(b.opts.ColliderHostPortPairs, hostPort) {
		hostPort = b.opts.ColliderHostPortPairs[0]
	}
	if req.Query.Get("wstls") == "false" {
		return Collider{
			WSSURL:     "ws://" + hostPort + "/ws",
			WSSPostURL: "http://" + hostPort,
			Host:       hostPort,
		}
	}
	return Collider{
		WSSURL:     "wss://" + hostPort + "/ws",
		WSSPostURL: "https://" + hostPort,
		Host:       hostPort,
	}
}

// Build returns the parameters for roomID and clientID. Empty ids and a nil
// isInitiator are left out of the result.
func (b *Builder) Build(req Request, roomID, clientID string, isInitiator *bool) RoomParameters {
	q := req.Query
	var errorMessages []string

	audio := q.Get("audio")
	video := q.Get("video")
	hd := strings.ToLower(q.Get("hd"))
	if hd != "" && video != "" {
		errorMessages = append(errorMessages, `The "hd" parameter has overridden video=`+video)
	}
	if hd == "true" {
		video = "mandatory:minWidth=1280,mandatory:minHeight=720"
	} else if hd == "" && video == "" && hdDefault(req.UserAgent) {
		video = "optional:minWidth=1280,optional:minHeight=720"
	}
	if q.Get("minre") != "" || q.Get("maxre") != "" {
		errorMessages = append(errorMessages, `The "minre" and "maxre" parameters are no longer supported. Use "video" instead.`)
	}

	dtls := q.Get("dtls")
	includeLoopbackJS := ""
	if req.IsLoopback() {
		// DTLS does not work for loopback.
		dtls = "false"
		includeLoopbackJS = `<script src="/js/loopback.js"></script>`
	}

	turnBaseURL := q.Get("ts")
	if turnBaseURL == "" {
		turnBaseURL = b.opts.TURNBaseURL
	}
	username := clientID
	if username == "" {
		username = RandomDigits(turnUsernameLength)
	}
	turnURL := ""
	if turnBaseURL != "" {
		turnURL = fmt.Sprintf(turnURLTemplate, turnBaseURL, username, b.opts.TURNKey)
	}

	media, malformed := mediaStreamConstraints(audio, video, q.Get("firefox_fake_device") != "")
	for _, constraint := range malformed {
		errorMessages = append(errorMessages, "Ignoring malformed constraint: "+constraint)
	}

	collider := b.Collider(req)
	params := RoomParameters{
		ErrorMessages:          errorMessages,
		IsLoopback:             strconv.FormatBool(req.IsLoopback()),
		PCConfig:               mustJSON(pcConfig(q.Get("it"))),
		PCConstraints:          mustJSON(pcConstraints(dtls, q.Get("dscp"), q.Get("ipv6"))),
		OfferConstraints:       mustJSON(trackConstraints{Mandatory: map[string]string{}, Optional: []map[string]string{}}),
		MediaConstraints:       mustJSON(media),
		TURNURL:                turnURL,
		TURNTransports:         q.Get("tt"),
		IncludeLoopbackJS:      includeLoopbackJS,
		WSSURL:                 collider.WSSURL,
		WSSPostURL:             collider.WSSPostURL,
		BypassJoinConfirmation: strconv.FormatBool(b.opts.BypassJoinConfirmation),
	}
	if params.ErrorMessages == nil {
		params.ErrorMessages = []string{}
	}

	if roomID != "" {
		proto := req.ForwardedProto
		if proto == "" {
			proto = "http"
		}
		params.RoomID = roomID
		params.RoomLink = proto + "://" + req.Host + "/r/" + url.PathEscape(roomID) + "?" + q.Encode()
	}
	if clientID != "" {
		params.ClientID = clientID
	}
	if isInitiator != nil {
		params.IsInitiator = strconv.FormatBool(*isInitiator)
	}
	return params
}

// hdDefault reports whether HD is on by default: desktop Chrome only.
func hdDefault(userAgent string) bool {
	return !strings.Contains(userAgent, "Android") && strings.Contains(userAgent, "Chrome")
}

// RandomDigits returns a string of n random decimal digits.
func RandomDigits(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		d, _ := rand.Int(rand.Reader, big.NewInt(10))
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String()
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
