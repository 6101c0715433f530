// Package arcgis fetches the upstream open-data layers from ArcGIS REST
// feature services and normalizes them into the model records the core
// consumes.
package arcgis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/stadsdata/curbwatch/pkg/model"
)

// pageSize is the resultRecordCount requested per query page.
const pageSize = 1000

// LayerKind selects the attribute mapping applied to fetched features.
type LayerKind int

const (
	// LayerEnvironmental is the street-cleaning restriction layer: each
	// feature carries a cleaning day-of-month and time window.
	LayerEnvironmental LayerKind = iota
	// LayerFee is the parking-fee layer: tariff, slot count, parking type.
	LayerFee
)

// Layer identifies one feature-service layer to fetch.
type Layer struct {
	ServiceURL string
	LayerID    int
	Kind       LayerKind
}

type Config struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	// AddressService is the feature service holding the address point
	// layer (layer 0).
	AddressService string
	// EnvironmentalLayer and FeeLayer locate the two parking-line layers.
	EnvironmentalLayer Layer
	FeeLayer           Layer
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.AddressService == "" {
		return errors.New("address service URL is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return nil
}

// Client pages through ArcGIS feature-service query endpoints.
type Client struct {
	log            *slog.Logger
	http           *http.Client
	addressService string
	envLayer       Layer
	feeLayer       Layer
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:            cfg.Logger,
		http:           cfg.HTTPClient,
		addressService: cfg.AddressService,
		envLayer:       cfg.EnvironmentalLayer,
		feeLayer:       cfg.FeeLayer,
	}, nil
}

// FetchEnvironmentalLines fetches the street-cleaning restriction layer.
func (c *Client) FetchEnvironmentalLines(ctx context.Context) ([]model.Segment, error) {
	return c.FetchLines(ctx, c.envLayer)
}

// FetchFeeLines fetches the parking-fee layer.
func (c *Client) FetchFeeLines(ctx context.Context) ([]model.Segment, error) {
	return c.FetchLines(ctx, c.feeLayer)
}

// feature is one raw ArcGIS feature. Attribute names vary in spelling and
// case between services, so they are kept raw and looked up leniently.
type feature struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
	Geometry   json.RawMessage            `json:"geometry"`
}

type queryResponse struct {
	Features              []feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
}

// fetchAllFeatures loops with resultOffset += pageSize until the server
// stops flagging exceededTransferLimit or returns a short page.
func (c *Client) fetchAllFeatures(ctx context.Context, serviceURL string, layerID int) ([]feature, error) {
	var all []feature
	offset := 0
	for {
		url := fmt.Sprintf(
			"%s/%d/query?where=1%%3D1&outFields=*&returnGeometry=true&f=geojson&resultOffset=%d&resultRecordCount=%d",
			serviceURL, layerID, offset, pageSize,
		)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("query %s layer %d: %w", serviceURL, layerID, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("query %s layer %d: unexpected status %s", serviceURL, layerID, resp.Status)
		}
		var page queryResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s layer %d: %w", serviceURL, layerID, err)
		}
		all = append(all, page.Features...)
		c.log.Debug("arcgis: fetched page", "service", serviceURL, "layer", layerID, "offset", offset, "count", len(page.Features))
		if !page.ExceededTransferLimit || len(page.Features) < pageSize {
			return all, nil
		}
		offset += pageSize
	}
}

// FetchAddresses fetches and normalizes the address point layer. Features
// missing a coordinate or any required attribute are skipped.
func (c *Client) FetchAddresses(ctx context.Context) ([]model.Address, error) {
	features, err := c.fetchAllFeatures(ctx, c.addressService, 0)
	if err != nil {
		return nil, err
	}
	addrs := make([]model.Address, 0, len(features))
	skipped := 0
	for _, f := range features {
		pt, ok := decodePoint(f.Geometry)
		if !ok {
			skipped++
			continue
		}
		attrs := normalize(f.Attributes)
		street, okStreet := attrs.str("streetname", "street", "gata")
		number, okNumber := attrs.str("streetnumber", "number", "gatunummer")
		full, okFull := attrs.str("fulladdress", "address", "adress")
		if !okStreet || !okNumber || !okFull {
			skipped++
			continue
		}
		postal, _ := attrs.str("postalcode", "postnummer", "postal")
		addr := model.Address{
			Coord:       model.Point{pt[0], pt[1]},
			Postal:      postal,
			Street:      street,
			Number:      number,
			FullAddress: full,
		}
		if err := addr.Validate(); err != nil {
			skipped++
			continue
		}
		addrs = append(addrs, addr)
	}
	c.log.Info("arcgis: addresses fetched", "count", len(addrs), "skipped", skipped)
	return addrs, nil
}

// FetchLines fetches and normalizes one parking-line layer.
func (c *Client) FetchLines(ctx context.Context, layer Layer) ([]model.Segment, error) {
	features, err := c.fetchAllFeatures(ctx, layer.ServiceURL, layer.LayerID)
	if err != nil {
		return nil, err
	}
	segs := make([]model.Segment, 0, len(features))
	skipped := 0
	for _, f := range features {
		start, end, ok := decodeSegment(f.Geometry)
		if !ok {
			skipped++
			continue
		}
		attrs := normalize(f.Attributes)
		seg := model.Segment{
			Start: model.Point{start[0], start[1]},
			End:   model.Point{end[0], end[1]},
		}
		switch layer.Kind {
		case LayerEnvironmental:
			day, okDay := attrs.integer("day", "dag")
			tid, okTid := attrs.str("time", "tid")
			info, _ := attrs.str("name", "info")
			if !okDay || !okTid {
				skipped++
				continue
			}
			seg.DayOfMonth = int(day)
			seg.TimeWindow = tid
			seg.Zone.FreeText = info
		case LayerFee:
			tariff, _ := attrs.str("taxa", "tariff")
			slots, _ := attrs.integer("antal_platser", "slots", "slotcount")
			ptype, _ := attrs.str("typ_av_parkering", "parkingtype", "type")
			seg.Zone.Tariff = tariff
			seg.Zone.SlotCount = uint64(slots)
			seg.Zone.ParkingType = ptype
		}
		if err := seg.Validate(); err != nil {
			skipped++
			continue
		}
		segs = append(segs, seg)
	}
	c.log.Info("arcgis: lines fetched", "service", layer.ServiceURL, "layer", layer.LayerID, "count", len(segs), "skipped", skipped)
	return segs, nil
}

// decodePoint extracts a point coordinate from a GeoJSON geometry.
func decodePoint(raw json.RawMessage) (orb.Point, bool) {
	if len(raw) == 0 {
		return orb.Point{}, false
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return orb.Point{}, false
	}
	pt, ok := g.Geometry().(orb.Point)
	return pt, ok
}

// decodeSegment extracts a pair of endpoints. Lines arrive as GeoJSON
// LineStrings; some services serve the restriction extent as a polygon, in
// which case the outer ring's first and last distinct vertices are used.
func decodeSegment(raw json.RawMessage) (start, end orb.Point, ok bool) {
	if len(raw) == 0 {
		return start, end, false
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return start, end, false
	}
	switch geom := g.Geometry().(type) {
	case orb.LineString:
		if len(geom) < 2 {
			return start, end, false
		}
		return geom[0], geom[len(geom)-1], true
	case orb.Polygon:
		if len(geom) == 0 || len(geom[0]) < 2 {
			return start, end, false
		}
		ring := geom[0]
		return ring[0], ring[len(ring)-2], true
	default:
		return start, end, false
	}
}

// attributes is a lowercase-keyed view over a feature's raw attributes.
type attributes map[string]json.RawMessage

func normalize(raw map[string]json.RawMessage) attributes {
	out := make(attributes, len(raw))
	for k, v := range raw {
		out[strings.ToLower(k)] = v
	}
	return out
}

// str returns the first present key decoded as a string. Numeric values
// are stringified, since services disagree on postal-code typing.
func (a attributes) str(keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := a[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s == "" {
				return "", false
			}
			return s, true
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return strconv.FormatFloat(n, 'f', -1, 64), true
		}
	}
	return "", false
}

// integer returns the first present key decoded as an integer, accepting
// both numeric and string-encoded values.
func (a attributes) integer(keys ...string) (int64, bool) {
	for _, k := range keys {
		raw, ok := a[k]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
