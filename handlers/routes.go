package handlers

import (
	"net/http"
	"strings"

	"github.com/als-computing/splash-server/internal/compounds"
	"github.com/als-computing/splash-server/internal/pages"
	"github.com/als-computing/splash-server/internal/references"
	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/teams"
	"github.com/als-computing/splash-server/internal/users"
	"github.com/als-computing/splash-server/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// Services are the resource services exposed over HTTP.
type Services struct {
	Teams      *teams.Service
	Pages      *pages.Service
	References *references.Service
	Users      *users.Service
	Compounds  *compounds.Service
}

// RegisterResources mounts every resource under rg, which is expected to be
// behind AuthMiddleware.
func RegisterResources(rg *gin.RouterGroup, s Services) {
	registerTeams(rg, s.Teams)
	registerPages(rg, s.Pages)
	registerReferences(rg, s.References)
	registerUsers(rg, s.Users)
	registerCompounds(rg, s.Compounds)
}

func registerTeams(rg *gin.RouterGroup, svc *teams.Service) {
	g := RegisterResource[teams.NewTeam, teams.Team](rg, "/teams", svc)
	g.GET("/user/:user_uid", func(c *gin.Context) {
		out, err := svc.GetUserTeams(c.Request.Context(), principal(c), c.Param("user_uid"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}

func registerPages(rg *gin.RouterGroup, svc *pages.Service) {
	g := RegisterResource[pages.NewPage, pages.Page](rg, "/pages", svc, Versioned[pages.NewPage, pages.Page]())
	g.GET("/page_type/:page_type", func(c *gin.Context) {
		page, size, err := pageArgs(c)
		if err != nil {
			respondError(c, err)
			return
		}
		out, err := svc.RetrieveByPageType(c.Request.Context(), principal(c), c.Param("page_type"), page, size)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
	g.GET("/:uid/versions", func(c *gin.Context) {
		out, err := svc.ListVersions(c.Request.Context(), principal(c), c.Param("uid"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
	g.GET("/:uid/versions/:version", func(c *gin.Context) {
		version, err := service.ParseVersion(c.Param("version"))
		if err != nil {
			respondError(c, err)
			return
		}
		out, err := svc.RetrieveVersion(c.Request.Context(), principal(c), c.Param("uid"), version)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
	g.GET("/:uid/num_versions", func(c *gin.Context) {
		n, err := svc.GetNumVersions(c.Request.Context(), principal(c), c.Param("uid"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"number": n})
	})
}

func registerReferences(rg *gin.RouterGroup, svc *references.Service) {
	search := func(c *gin.Context, page, size int) (interface{}, bool, error) {
		text, ok := c.GetQuery("search")
		if !ok {
			return nil, false, nil
		}
		out, err := svc.Search(c.Request.Context(), principal(c), text, page, size)
		return out, true, err
	}
	g := RegisterResource[references.NewReference, references.Reference](rg, "/references", svc.Typed,
		WithListOverride[references.NewReference, references.Reference](search))
	// DOIs contain slashes, hence the catch-all.
	g.GET("/doi/*doi", func(c *gin.Context) {
		doi := strings.TrimPrefix(c.Param("doi"), "/")
		out, err := svc.RetrieveOne(c.Request.Context(), principal(c), "", doi)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}

func registerUsers(rg *gin.RouterGroup, svc *users.Service) {
	g := RegisterResource[users.NewUser, users.User](rg, "/users", svc)
	g.GET("/me", func(c *gin.Context) {
		u := middleware.CurrentUser(c)
		if u == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "not signed in"})
			return
		}
		c.JSON(http.StatusOK, u)
	})
}

func registerCompounds(rg *gin.RouterGroup, svc *compounds.Service) {
	g := RegisterResource[compounds.NewCompound, compounds.Compound](rg, "/compounds", svc)
	g.GET("/species/:species", func(c *gin.Context) {
		page, size, err := pageArgs(c)
		if err != nil {
			respondError(c, err)
			return
		}
		out, err := svc.RetrieveBySpecies(c.Request.Context(), principal(c), c.Param("species"), page, size)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
