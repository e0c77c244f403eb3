package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arzzra/soft_conference/pkg/conference"
	"github.com/arzzra/soft_conference/pkg/leg"
)

const (
	ctxConference = "conference"
	ctxMemberID   = "member_id"
)

// ConferenceInfo снимок комнаты для ответов API
type ConferenceInfo struct {
	Name        string                  `json:"name"`
	UUID        string                  `json:"uuid"`
	Profile     string                  `json:"profile"`
	Rate        int                     `json:"rate"`
	State       string                  `json:"state"`
	Count       int                     `json:"count"`
	Locked      bool                    `json:"locked"`
	Destructing bool                    `json:"destructing"`
	WaitMod     bool                    `json:"wait_mod"`
	FloorHolder uint32                  `json:"floor_holder"`
	AGCLevel    int                     `json:"agc_level"`
	Recordings  []string                `json:"recordings"`
	Members     []conference.MemberInfo `json:"members,omitempty"`
}

func conferenceInfo(c *conference.Conference, withMembers bool) ConferenceInfo {
	info := ConferenceInfo{
		Name:        c.Name(),
		UUID:        c.UUID(),
		Profile:     c.Profile().Name,
		Rate:        c.Rate(),
		State:       c.State(),
		Count:       c.Count(),
		Locked:      c.IsLocked(),
		Destructing: c.IsDestructing(),
		WaitMod:     c.WaitingForModerator(),
		FloorHolder: c.FloorHolder(),
		AGCLevel:    c.AGCLevel(),
		Recordings:  c.Recordings(),
	}
	if withMembers {
		info.Members = c.Members()
	}
	return info
}

func (s *Server) withConference(c *gin.Context) {
	conf, err := s.registry.Find(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Set(ctxConference, conf)
	c.Next()
}

func room(c *gin.Context) *conference.Conference {
	return c.MustGet(ctxConference).(*conference.Conference)
}

func (s *Server) listProfiles(c *gin.Context) {
	ok(c, gin.H{"profiles": s.registry.ProfileNames()})
}

func (s *Server) listConferences(c *gin.Context) {
	list := s.registry.List()
	out := make([]ConferenceInfo, 0, len(list))
	for _, conf := range list {
		out = append(out, conferenceInfo(conf, false))
	}
	ok(c, gin.H{"conferences": out})
}

type createRequest struct {
	Name    string `json:"name" binding:"required"`
	Profile string `json:"profile"`
	// Events список категорий событий; пустой означает все
	Events []string `json:"events"`
}

func (s *Server) createConference(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	mask, err := conference.ParseEventMask(req.Events)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Profile == "" {
		req.Profile = s.profile
	}
	conf, err := s.registry.Create(req.Name, req.Profile)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(req.Events) > 0 {
		conf.SetEventMask(mask)
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":     conference.StatusSuccess.String(),
		"conference": conferenceInfo(conf, false),
	})
}

func (s *Server) getConference(c *gin.Context) {
	ok(c, gin.H{"conference": conferenceInfo(room(c), true)})
}

func (s *Server) destroyConference(c *gin.Context) {
	conf := room(c)
	conf.Destroy(leg.CauseManagerRequest)
	ok(c, gin.H{"name": conf.Name()})
}

func (s *Server) lock(c *gin.Context) {
	room(c).Lock()
	ok(c, nil)
}

func (s *Server) unlock(c *gin.Context) {
	room(c).Unlock()
	ok(c, nil)
}

type playRequest struct {
	Path   string `json:"path"`
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Async  bool   `json:"async"`
	Loop   bool   `json:"loop"`
	LeadIn *int   `json:"lead_in"`
}

func (r playRequest) options() conference.PlayOptions {
	opts := conference.PlayOptions{Async: r.Async, Loop: r.Loop, Voice: r.Voice, LeadIn: -1}
	if r.LeadIn != nil {
		opts.LeadIn = *r.LeadIn
	}
	return opts
}

func bindPlay(c *gin.Context, needText bool) (playRequest, bool) {
	var req playRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return req, false
	}
	if needText && req.Text == "" {
		badRequest(c, "text обязателен")
		return req, false
	}
	if !needText && req.Path == "" {
		badRequest(c, "path обязателен")
		return req, false
	}
	return req, true
}

func (s *Server) play(c *gin.Context) {
	req, valid := bindPlay(c, false)
	if !valid {
		return
	}
	if err := room(c).PlayFile(c.Request.Context(), req.Path, req.options()); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) say(c *gin.Context) {
	req, valid := bindPlay(c, true)
	if !valid {
		return
	}
	if err := room(c).Say(c.Request.Context(), req.Text, req.options()); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

// parseScope читает ?scope=all|current|async
func parseScope(c *gin.Context) (conference.StopScope, bool) {
	switch c.DefaultQuery("scope", "all") {
	case "all":
		return conference.StopAll, true
	case "current":
		return conference.StopCurrent, true
	case "async":
		return conference.StopAsync, true
	}
	badRequest(c, "scope должен быть all, current или async")
	return 0, false
}

func (s *Server) stop(c *gin.Context) {
	scope, valid := parseScope(c)
	if !valid {
		return
	}
	ok(c, gin.H{"stopped": room(c).StopPlayback(scope)})
}

type levelRequest struct {
	Level *int `json:"level" binding:"required"`
}

func (s *Server) setAGC(c *gin.Context) {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := room(c).SetAGCLevel(*req.Level); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

type recordRequest struct {
	Path string `json:"path"`
}

func (s *Server) startRecording(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		badRequest(c, "path обязателен")
		return
	}
	if err := room(c).StartRecording(req.Path); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"path": req.Path})
}

// stopRecording останавливает запись ?path= или все записи комнаты
func (s *Server) stopRecording(c *gin.Context) {
	n, err := room(c).StopRecording(c.Query("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"stopped": n})
}

type dialRequest struct {
	Destination string `json:"destination" binding:"required"`
	// Background ставит вызов в фон и сразу возвращает job_uuid
	Background bool     `json:"background"`
	TimeoutMS  int      `json:"timeout_ms"`
	Options    joinBody `json:"options"`
}

type joinBody struct {
	Name          string `json:"name"`
	Moderator     bool   `json:"moderator"`
	Ghost         bool   `json:"ghost"`
	EndConference bool   `json:"endconf"`
	NoMOH         bool   `json:"nomoh"`
	Muted         bool   `json:"mute"`
	Deaf          bool   `json:"deaf"`
	EnergyLevel   *int   `json:"energy_level"`
	NoControls    bool   `json:"no_controls"`
}

func (b joinBody) options() conference.JoinOptions {
	return conference.JoinOptions{
		Name:          b.Name,
		Moderator:     b.Moderator,
		Ghost:         b.Ghost,
		EndConference: b.EndConference,
		NoMOH:         b.NoMOH,
		Muted:         b.Muted,
		Deaf:          b.Deaf,
		EnergyLevel:   b.EnergyLevel,
		NoControls:    b.NoControls,
	}
}

func (s *Server) dial(c *gin.Context) {
	var body dialRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.TimeoutMS < 0 {
		badRequest(c, "timeout_ms не может быть отрицательным")
		return
	}
	req := conference.DialRequest{
		Destination: body.Destination,
		Options:     body.Options.options(),
		Timeout:     time.Duration(body.TimeoutMS) * time.Millisecond,
	}
	conf := room(c)
	if body.Background {
		job, err := conf.BgDial(req)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": conference.StatusSuccess.String(), "job_uuid": job})
		return
	}
	m, err := conf.Dial(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"member_id": m.ID()})
}
