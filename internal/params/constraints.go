package params

import "strings"

type trackConstraints struct {
	Mandatory map[string]string   `json:"mandatory"`
	Optional  []map[string]string `json:"optional"`
}

type streamConstraints struct {
	Audio interface{} `json:"audio"`
	Video interface{} `json:"video"`
	Fake  bool        `json:"fake,omitempty"`
}

type peerConnectionConfig struct {
	ICEServers    []interface{} `json:"iceServers"`
	ICETransports string        `json:"iceTransports,omitempty"`
}

type peerConnectionConstraints struct {
	Optional []map[string]bool `json:"optional"`
}

func pcConfig(iceTransports string) peerConnectionConfig {
	return peerConnectionConfig{ICEServers: []interface{}{}, ICETransports: iceTransports}
}

func pcConstraints(dtls, dscp, ipv6 string) peerConnectionConstraints {
	c := peerConnectionConstraints{Optional: []map[string]bool{}}
	c.maybeAdd(dtls, "DtlsSrtpKeyAgreement")
	c.maybeAdd(dscp, "googDscp")
	c.maybeAdd(ipv6, "googIPv6")
	return c
}

func (c *peerConnectionConstraints) maybeAdd(param, constraint string) {
	switch strings.ToLower(param) {
	case "true":
		c.Optional = append(c.Optional, map[string]bool{constraint: true})
	case "false":
		c.Optional = append(c.Optional, map[string]bool{constraint: false})
	}
}

// mediaStreamConstraints also returns the constraints it could not parse.
func mediaStreamConstraints(audio, video string, fake bool) (streamConstraints, []string) {
	a, badAudio := mediaTrackConstraints(audio)
	v, badVideo := mediaTrackConstraints(video)
	return streamConstraints{Audio: a, Video: v, Fake: fake}, append(badAudio, badVideo...)
}

// mediaTrackConstraints parses "true", "false" or a comma separated list of
// [mandatory:|optional:]key=value pairs. Without a prefix, keys starting
// with "goog" are optional and everything else is mandatory. Malformed
// entries are skipped and returned.
func mediaTrackConstraints(s string) (interface{}, []string) {
	switch strings.ToLower(s) {
	case "", "true":
		return true, nil
	case "false":
		return false, nil
	}
	c := trackConstraints{Mandatory: map[string]string{}, Optional: []map[string]string{}}
	var malformed []string
	for _, constraint := range strings.Split(s, ",") {
		if !c.add(constraint) {
			malformed = append(malformed, constraint)
		}
	}
	return c, malformed
}

func (c *trackConstraints) add(constraint string) bool {
	tokens := strings.Split(constraint, ":")
	mandatory := !strings.HasPrefix(tokens[0], "goog")
	if len(tokens) == 2 {
		mandatory = tokens[0] == "mandatory"
	}
	kv := strings.Split(tokens[len(tokens)-1], "=")
	if len(kv) != 2 {
		return false
	}
	if mandatory {
		c.Mandatory[kv[0]] = kv[1]
	} else {
		c.Optional = append(c.Optional, map[string]string{kv[0]: kv[1]})
	}
	return true
}
