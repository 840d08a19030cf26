package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/prompt"
	"github.com/KodaTao/linguachat/store"
)

// LearnerHandler 提供学习者状态、词汇和历史记录的 REST 接口
type LearnerHandler struct {
	registry *store.Registry
	log      *zap.Logger
}

func NewLearnerHandler(registry *store.Registry, log *zap.Logger) *LearnerHandler {
	return &LearnerHandler{registry: registry, log: log.With(zap.String("component", "learner"))}
}

type learnerURI struct {
	Learner string `uri:"learner" binding:"required,max=64,printascii"`
}

type vocabularyQuery struct {
	Q        string `form:"q"`
	Language string `form:"language"`
	Sort     string `form:"sort" binding:"omitempty,oneof=date alphabetical"`
}

func (h *LearnerHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/learners/:learner", h.load)
	g.GET("/state", h.State)
	g.GET("/vocabulary", h.Vocabulary)
	g.GET("/vocabulary/stats", h.VocabularyStats)
	g.DELETE("/vocabulary/:id", h.DeleteVocabulary)
	g.GET("/history", h.History)
	g.GET("/history/summary", h.HistorySummary)
	g.GET("/history/:id", h.HistoryEntry)
	g.DELETE("/history/:id", h.DeleteHistory)
	g.DELETE("/history", h.ClearHistory)
}

const storeKey = "learnerStore"

// load 解析学习者并把其 store 放进上下文
func (h *LearnerHandler) load(c *gin.Context) {
	var uri learnerURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid learner id", "kind": "validation"})
		return
	}
	st, err := h.registry.Open(c.Request.Context(), uri.Learner)
	if err != nil {
		h.log.Error("open learner store failed", zap.String("learner", uri.Learner), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not load learner state", "kind": "provider"})
		return
	}
	defer h.registry.Release(uri.Learner)

	c.Set(storeKey, st)
	c.Next()
}

func learnerStore(c *gin.Context) *store.Store {
	return c.MustGet(storeKey).(*store.Store)
}

func (h *LearnerHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, learnerStore(c).View())
}

func (h *LearnerHandler) Vocabulary(c *gin.Context) {
	var q vocabularyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be date or alphabetical", "kind": "validation"})
		return
	}
	c.JSON(http.StatusOK, learnerStore(c).SearchVocabulary(store.VocabularyQuery{
		Search:   q.Q,
		Language: q.Language,
		Sort:     store.SortOrder(q.Sort),
	}))
}

func (h *LearnerHandler) VocabularyStats(c *gin.Context) {
	stats := learnerStore(c).VocabularyStats()
	c.JSON(http.StatusOK, gin.H{
		"total":                     stats.Total,
		"thisWeek":                  stats.ThisWeek,
		"thisMonth":                 stats.ThisMonth,
		"mostPracticedLanguage":     stats.MostPracticedLanguage,
		"mostPracticedLanguageName": prompt.LanguageName(stats.MostPracticedLanguage),
		"languages":                 stats.Languages,
	})
}

func (h *LearnerHandler) DeleteVocabulary(c *gin.Context) {
	if !learnerStore(c).RemoveVocabulary(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "vocabulary item not found", "kind": "validation"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LearnerHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, learnerStore(c).History())
}

func (h *LearnerHandler) HistorySummary(c *gin.Context) {
	c.JSON(http.StatusOK, learnerStore(c).HistorySummary())
}

func (h *LearnerHandler) HistoryEntry(c *gin.Context) {
	entry, ok := learnerStore(c).HistoryEntry(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found", "kind": "validation"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *LearnerHandler) DeleteHistory(c *gin.Context) {
	if !learnerStore(c).DeleteHistory(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found", "kind": "validation"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LearnerHandler) ClearHistory(c *gin.Context) {
	learnerStore(c).ClearHistory()
	c.Status(http.StatusNoContent)
}

// ListScenarios 返回场景目录
func ListScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, prompt.Scenarios())
}

func GetScenario(c *gin.Context) {
	sc, ok := prompt.ScenarioByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "scenario not found", "kind": "validation"})
		return
	}
	c.JSON(http.StatusOK, sc)
}
