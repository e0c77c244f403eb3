package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arzzra/soft_conference/pkg/conference"
)

func (s *Server) withMemberID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "некорректный идентификатор участника")
		return
	}
	c.Set(ctxMemberID, uint32(id))
	c.Next()
}

func memberID(c *gin.Context) uint32 { return c.MustGet(ctxMemberID).(uint32) }

func (s *Server) getMember(c *gin.Context) {
	m, err := room(c).Member(memberID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"member": m.Info()})
}

// memberCommand обработчик команды без аргументов
func (s *Server) memberCommand(cmd func(*conference.Conference, uint32) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := cmd(room(c), memberID(c)); err != nil {
			s.fail(c, err)
			return
		}
		ok(c, nil)
	}
}

// memberLevel обработчик команды с уровнем в теле {"level": n}
func (s *Server) memberLevel(cmd func(*conference.Conference, uint32, int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req levelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := cmd(room(c), memberID(c), *req.Level); err != nil {
			s.fail(c, err)
			return
		}
		ok(c, nil)
	}
}

func (s *Server) playMember(c *gin.Context) {
	req, valid := bindPlay(c, false)
	if !valid {
		return
	}
	if err := room(c).PlayFileMember(c.Request.Context(), memberID(c), req.Path, req.options()); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) sayMember(c *gin.Context) {
	req, valid := bindPlay(c, true)
	if !valid {
		return
	}
	if err := room(c).SayMember(c.Request.Context(), memberID(c), req.Text, req.options()); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) stopMember(c *gin.Context) {
	scope, valid := parseScope(c)
	if !valid {
		return
	}
	n, err := room(c).StopPlaybackMember(memberID(c), scope)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"stopped": n})
}

type transferRequest struct {
	Destination string `json:"destination" binding:"required"`
}

func (s *Server) transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := room(c).Transfer(c.Request.Context(), memberID(c), req.Destination); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

type execRequest struct {
	App  string `json:"app" binding:"required"`
	Args string `json:"args"`
}

func (s *Server) execApp(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := room(c).ExecuteApp(c.Request.Context(), memberID(c), req.App, req.Args); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) relationships(c *gin.Context) {
	rels, err := room(c).Relationships(memberID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if rels == nil {
		rels = []conference.Relationship{}
	}
	ok(c, gin.H{"relationships": rels})
}

// otherID разбирает :other; "all" означает любого участника
func otherID(c *gin.Context) (uint32, bool) {
	raw := c.Param("other")
	if raw == "all" {
		return conference.WildcardID, true
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		badRequest(c, "некорректный идентификатор участника")
		return 0, false
	}
	return uint32(id), true
}

type relationshipRequest struct {
	CanHear  *bool `json:"can_hear" binding:"required"`
	CanSpeak *bool `json:"can_speak" binding:"required"`
}

func (s *Server) setRelationship(c *gin.Context) {
	other, valid := otherID(c)
	if !valid {
		return
	}
	var req relationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := room(c).SetRelationship(memberID(c), other, *req.CanHear, *req.CanSpeak); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) clearRelationship(c *gin.Context) {
	other, valid := otherID(c)
	if !valid {
		return
	}
	if err := room(c).ClearRelationship(memberID(c), other); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}
