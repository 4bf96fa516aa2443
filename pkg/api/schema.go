// Package api is a read-only GraphQL query surface over committed pages,
// revisions, and live session/presence state. It has no mutation and no
// subscription type: every write into the collaboration core happens over
// the wire protocol pkg/hub serves, never through this API.
package api

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/store"
)

// Schema builds the GraphQL schema backed by pages and coordinator.
func Schema(pages *store.MemoryStore, coordinator *collab.Coordinator) (graphql.Schema, error) {
	pageType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Page",
		Description: "A wiki page's durable, committed state",
		Fields: graphql.Fields{
			"id":                    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"title":                 &graphql.Field{Type: graphql.String},
			"summary":               &graphql.Field{Type: graphql.String},
			"body":                  &graphql.Field{Type: graphql.String},
			"bodyFormat":            &graphql.Field{Type: graphql.String},
			"updatedAt":             &graphql.Field{Type: graphql.DateTime},
			"updatedBy":             &graphql.Field{Type: graphql.String},
			"lastCommittedAt":       &graphql.Field{Type: graphql.DateTime},
			"lastCommittedContent":  &graphql.Field{Type: graphql.String},
			"hasUncommittedChanges": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
		IsTypeOf: func(p graphql.IsTypeOfParams) bool {
			_, ok := p.Value.(*store.Page)
			return ok
		},
	})

	revisionType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Revision",
		Description: "A durable, user-visible snapshot produced by a commit",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"pageId":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"author":    &graphql.Field{Type: graphql.String},
			"createdAt": &graphql.Field{Type: graphql.DateTime},
			"note":      &graphql.Field{Type: graphql.String},
			"snapshot":  &graphql.Field{Type: graphql.String},
			"format":    &graphql.Field{Type: graphql.String},
		},
	})

	userPresenceType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "UserPresence",
		Description: "A connected editor's live presence record",
		Fields: graphql.Fields{
			"userId":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"displayName": &graphql.Field{Type: graphql.String},
			"email":       &graphql.Field{Type: graphql.String},
			"color":       &graphql.Field{Type: graphql.String},
			"joinedAt":    &graphql.Field{Type: graphql.DateTime},
			"lastSeenAt":  &graphql.Field{Type: graphql.DateTime},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Session",
		Description: "A page's live, in-memory edit-room state",
		Fields: graphql.Fields{
			"pageId":               &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"content":              &graphql.Field{Type: graphql.String},
			"globalSequenceNumber": &graphql.Field{Type: graphql.Int},
			"contentHash":          &graphql.Field{Type: graphql.String},
			"users":                &graphql.Field{Type: graphql.NewList(userPresenceType)},
		},
	})

	resolver := NewResolver(pages, coordinator)

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Query",
		Description: "Root read-only query type for the collaboration core",
		Fields: graphql.Fields{
			"page": &graphql.Field{
				Type:        pageType,
				Description: "Fetch a page's committed state by id",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.Page,
			},
			"revisions": &graphql.Field{
				Type:        graphql.NewList(revisionType),
				Description: "List a page's revisions, most recent first",
				Args: graphql.FieldConfigArgument{
					"pageId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: resolver.Revisions,
			},
			"latestRevision": &graphql.Field{
				Type:        revisionType,
				Description: "Fetch a page's most recent revision",
				Args: graphql.FieldConfigArgument{
					"pageId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.LatestRevision,
			},
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Fetch a page's live edit-room state, if one is open",
				Args: graphql.FieldConfigArgument{
					"pageId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.Session,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create GraphQL schema: %w", err)
	}
	return schema, nil
}
