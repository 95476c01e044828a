// Command seed creates a conversation and its members in the primary
// store. Conversation management has no realtime surface, so local setups
// and demos start here.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/mahaj/dupahar-realtime/pkg/config"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/store/postgres"
)

func main() {
	id := flag.String("conversation", "general", "conversation id")
	kind := flag.String("kind", string(model.KindGroup), "DIRECT, GROUP or CHANNEL")
	owner := flag.String("owner", "user1", "owner user id")
	members := flag.String("members", "user2", "comma separated member ids")
	public := flag.Bool("public", false, "anyone may join")
	readOnly := flag.Bool("read-only", false, "only admins may post")
	flag.Parse()

	var cfg struct{ Postgres config.Postgres }
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	st := postgres.New(pool)
	if err := st.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	p := plan{
		Conversation: model.Conversation{
			ID:       *id,
			Kind:     model.ConversationKind(strings.ToUpper(*kind)),
			Name:     *id,
			Public:   *public,
			ReadOnly: *readOnly,
			OwnerID:  *owner,
		},
		Members: splitIDs(*members),
	}
	if err := p.apply(ctx, st); err != nil {
		log.Fatal(err)
	}
	log.Printf("Conversation %s ready with owner %s and %d members", p.Conversation.ID, *owner, len(p.Members))
}
