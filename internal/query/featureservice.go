package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"geo-nearby/internal/geom"
	"geo-nearby/internal/logger"
)

// 文档注释：ArcGIS 要素服务数据源（REST）
// 背景：调用 FeatureServer/<n>/query，以 Esri JSON 面做相交过滤，outFields=*；服务端分页时按 resultOffset 续取。
// 约束：非 200 状态、解码失败与响应中的 error 对象均返回错误，由查询客户端转换为取消结果；分页上限 maxPages。
type FeatureService struct {
	id         string
	name       string
	idField    string
	selectable bool
	endpoint   string
	wkid       int
	client     *http.Client
	maxPages   int
}

func NewFeatureService(endpoint, id, name, idField string, wkid int, selectable bool, client *http.Client) *FeatureService {
	if client == nil {
		client = &http.Client{}
	}
	if name == "" {
		name = id
	}
	return &FeatureService{
		id: id, name: name, idField: idField, selectable: selectable,
		endpoint: strings.TrimRight(endpoint, "/"), wkid: wkid, client: client, maxPages: 20,
	}
}

func (s *FeatureService) ID() string       { return s.id }
func (s *FeatureService) Name() string     { return s.name }
func (s *FeatureService) IDField() string  { return s.idField }
func (s *FeatureService) Selectable() bool { return s.selectable }

type fsFeature struct {
	Attributes map[string]any     `json:"attributes"`
	Geometry   *geom.EsriGeometry `json:"geometry"`
}

type fsResponse struct {
	Features              []fsFeature `json:"features"`
	ExceededTransferLimit bool        `json:"exceededTransferLimit"`
	Error                 *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var ErrFeatureService = errors.New("feature service error")

func (s *FeatureService) ExecuteQuery(ctx context.Context, q Query) (*Result, error) {
	form, err := s.encode(q)
	if err != nil {
		return nil, err
	}
	var out []*geom.Feature
	for page := 0; page < s.maxPages; page++ {
		if page > 0 {
			form.Set("resultOffset", strconv.Itoa(len(out)))
		}
		r, err := s.post(ctx, form)
		if err != nil {
			return nil, err
		}
		for _, f := range r.Features {
			feat := geom.NewFeature(nil, f.Attributes)
			if q.ReturnGeometry && f.Geometry != nil {
				g, err := f.Geometry.Orb()
				if err != nil {
					return nil, fmt.Errorf("decode feature geometry: %w", err)
				}
				feat.Geometry = g
			}
			out = append(out, feat)
		}
		if !r.ExceededTransferLimit || len(r.Features) == 0 {
			return &Result{Features: out}, nil
		}
	}
	logger.L().Warn("feature_service_page_limit", "source", s.id, "features", len(out))
	return &Result{Features: out}, nil
}

func (s *FeatureService) encode(q Query) (url.Values, error) {
	v := url.Values{}
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	v.Set("where", where)
	v.Set("outFields", "*")
	v.Set("returnGeometry", strconv.FormatBool(q.ReturnGeometry))
	v.Set("f", "json")
	if s.wkid > 0 {
		v.Set("outSR", strconv.Itoa(s.wkid))
	}
	if q.Geometry != nil {
		eg, typ, err := geom.ToEsri(q.Geometry, s.wkid)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(eg)
		if err != nil {
			return nil, err
		}
		v.Set("geometry", string(b))
		v.Set("geometryType", typ)
		v.Set("spatialRel", "esriSpatialRelIntersects")
		if s.wkid > 0 {
			v.Set("inSR", strconv.Itoa(s.wkid))
		}
	}
	return v, nil
}

func (s *FeatureService) post(ctx context.Context, form url.Values) (*fsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feature service status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var r fsResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if r.Error != nil {
		return nil, fmt.Errorf("%w %d: %s", ErrFeatureService, r.Error.Code, r.Error.Message)
	}
	return &r, nil
}

// Ping 探测服务可用性（GET ?f=json）
func (s *FeatureService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?f=json", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feature service status %d", resp.StatusCode)
	}
	return nil
}
