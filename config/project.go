package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"uwb-engine/calib"
	"uwb-engine/fusion"
	"uwb-engine/rbc"
)

var ErrBadProject = errors.New("invalid project file")

const (
	DefaultBaud    = 115200
	DefaultWebPort = 8080
	DefaultTopic   = "uwb/tag"
)

type RbcSenderConfig struct {
	Addr string
	Port int
	Type string
	Mask uint32
}

type SerialConfig struct {
	Port string
	Baud int
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

type WebConfig struct {
	Port int
	Dir  string
}

type FilterConfig struct {
	Window    int
	Weighting fusion.Weighting
}

// Project is a validated project.xml.
type Project struct {
	Dims        int
	Anchors     []fusion.Anchor
	Geometry    *fusion.Geometry
	Filter      FilterConfig
	Calibration calib.Plan
	Serial      SerialConfig
	Senders     []RbcSenderConfig
	MQTT        MQTTConfig
	Web         WebConfig
}

// Pipeline builds a fresh pipeline for the project's anchor table and filter.
func (p *Project) Pipeline() (*fusion.Pipeline, error) {
	return fusion.NewPipeline(p.Geometry, p.Dims, fusion.NewPositionFilter(p.Filter.Window, p.Filter.Weighting))
}

// RbcSender builds an unstarted sender for the txlist, or nil when the
// project lists no targets.
func (p *Project) RbcSender() (*rbc.Sender, error) {
	if len(p.Senders) == 0 {
		return nil, nil
	}
	snd := rbc.NewSender()
	for _, c := range p.Senders {
		addr := net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
		if err := snd.AddTarget(c.Type, addr, c.Mask); err != nil {
			return nil, err
		}
	}
	return snd, nil
}

func defaultProject() *Project {
	return &Project{
		Dims:        2,
		Filter:      FilterConfig{Window: fusion.DefaultWindowSize, Weighting: fusion.Linear},
		Calibration: calib.DefaultPlan(4),
		Serial:      SerialConfig{Baud: DefaultBaud},
		MQTT:        MQTTConfig{Topic: DefaultTopic},
		Web:         WebConfig{Port: DefaultWebPort},
	}
}

// LoadProject reads project.xml. Anchor positions are in centimetres.
func LoadProject(path string) (*Project, error) {
	dec, f, err := readXML(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := parseProject(dec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProject is LoadProject for an already open document.
func ParseProject(r io.Reader) (*Project, error) {
	return parseProject(xml.NewDecoder(r))
}

func parseProject(dec *xml.Decoder) (*Project, error) {
	p := defaultProject()
	inAnchorList := false
	inTxList := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadProject, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "locator":
				if v, ok := parseIntAttr(t, "dims"); ok {
					p.Dims = v
				}
			case "anchorlist":
				inAnchorList = true
			case "deviceItem":
				if !inAnchorList {
					continue
				}
				a, err := parseAnchor(t)
				if err != nil {
					return nil, err
				}
				p.Anchors = append(p.Anchors, a)
			case "filter":
				if v, ok := parseIntAttr(t, "window"); ok {
					p.Filter.Window = v
				}
				if v, ok := attrValue(t, "weight"); ok {
					w, err := fusion.ParseWeighting(v)
					if err != nil {
						return nil, fmt.Errorf("%w: %v", ErrBadProject, err)
					}
					p.Filter.Weighting = w
				}
			case "calibration":
				if err := parseCalibration(t, &p.Calibration); err != nil {
					return nil, err
				}
			case "serial":
				p.Serial.Port, _ = attrValue(t, "port")
				if v, ok := parseIntAttr(t, "baud"); ok {
					p.Serial.Baud = v
				}
			case "txlist":
				inTxList = true
			case "transferItem":
				if inTxList {
					snd, err := parseSender(t)
					if err != nil {
						return nil, err
					}
					p.Senders = append(p.Senders, snd)
				}
			case "mqtt":
				p.MQTT.Broker, _ = attrValue(t, "broker")
				p.MQTT.ClientID, _ = attrValue(t, "client")
				if v, ok := attrValue(t, "topic"); ok && v != "" {
					p.MQTT.Topic = v
				}
			case "web":
				if v, ok := parseIntAttr(t, "port"); ok {
					p.Web.Port = v
				}
				p.Web.Dir, _ = attrValue(t, "dir")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "anchorlist":
				inAnchorList = false
			case "txlist":
				inTxList = false
			}
		}
	}
	return p, p.validate()
}

func (p *Project) validate() error {
	if p.Filter.Window <= 0 {
		return fmt.Errorf("%w: filter window %d", ErrBadProject, p.Filter.Window)
	}
	if err := p.Calibration.Validate(); err != nil {
		return err
	}
	g, err := fusion.NewGeometry(p.Dims, p.Anchors)
	if err != nil {
		return err
	}
	p.Geometry = g
	p.Anchors = g.Anchors()
	return nil
}

func parseAnchor(t xml.StartElement) (fusion.Anchor, error) {
	idStr, ok := attrValue(t, "id")
	if !ok {
		return fusion.Anchor{}, fmt.Errorf("%w: deviceItem without id", ErrBadProject)
	}
	aid, err := strconv.ParseInt(idStr, 16, 64)
	if err != nil {
		return fusion.Anchor{}, fmt.Errorf("%w: anchor id %q", ErrBadProject, idStr)
	}
	posStr, ok := attrValue(t, "pos")
	if !ok {
		return fusion.Anchor{}, fmt.Errorf("%w: anchor %s without pos", ErrBadProject, idStr)
	}
	coords := strings.Split(posStr, ",")
	if len(coords) < 2 || len(coords) > 3 {
		return fusion.Anchor{}, fmt.Errorf("%w: anchor %s pos %q", ErrBadProject, idStr, posStr)
	}
	var xyz [3]float64
	for i, c := range coords {
		v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return fusion.Anchor{}, fmt.Errorf("%w: anchor %s pos %q", ErrBadProject, idStr, posStr)
		}
		xyz[i] = v / 100.0
	}
	return fusion.Anchor{ID: int(aid & 0xFFFF), X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func parseCalibration(t xml.StartElement, plan *calib.Plan) error {
	if v, ok := parseIntAttr(t, "samples"); ok {
		plan.SamplesPerDistance = v
	}
	if v, ok := attrValue(t, "distances"); ok {
		ds, err := parseFloatList(v)
		if err != nil {
			return fmt.Errorf("%w: calibration distances: %v", ErrBadProject, err)
		}
		plan.Distances = ds
	}
	if v, ok := attrValue(t, "timeout"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: calibration timeout: %v", ErrBadProject, err)
		}
		plan.SampleTimeout = d
	}
	return nil
}

func parseSender(t xml.StartElement) (RbcSenderConfig, error) {
	addr, _ := attrValue(t, "addr")
	typ, _ := attrValue(t, "type")
	kind, err := rbc.ParseKind(typ)
	if err != nil {
		return RbcSenderConfig{}, fmt.Errorf("%w: transferItem %s: %v", ErrBadProject, addr, err)
	}
	port, _ := parseIntAttr(t, "port")
	maskStr, _ := attrValue(t, "data")
	mask, _ := strconv.ParseInt(maskStr, 10, 64)
	return RbcSenderConfig{Addr: addr, Port: port, Type: kind, Mask: uint32(mask)}, nil
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readXML(path string) (*xml.Decoder, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return xml.NewDecoder(f), f, nil
}

func attrValue(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func parseIntAttr(start xml.StartElement, name string) (int, bool) {
	if v, ok := attrValue(start, name); ok {
		val, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return val, true
		}
	}
	return 0, false
}
