package bot

import (
	"context"
	"fmt"
	"strings"

	"inventorybot/internal/inventory"
	"inventorybot/internal/session"
)

const helpText = `Inventory bot commands:
/inputftm - load an FTM (fiber) spreadsheet
/inputmetro - load a Metro uplink spreadsheet
/cekftm - look up FTM data
/cekmetro - look up Metro data
/status - result of your last upload
/cancel - cancel the current operation
/end - end the conversation`

func (d *Dispatcher) command(ctx context.Context, c *conversation, cmd CommandEvent) {
	log := d.log.WithField("conversation_id", c.id).WithField("command", cmd.Name)

	switch strings.ToLower(cmd.Name) {
	case "start", "help":
		d.say(ctx, c.id, helpText)

	case "inputftm":
		d.startIngestion(ctx, c, inventory.CategoryFTM)
	case "inputmetro":
		d.startIngestion(ctx, c, inventory.CategoryUplink)

	case "cekftm":
		d.startLookup(ctx, c, inventory.CategoryFTM)
	case "cekmetro":
		d.startLookup(ctx, c, inventory.CategoryUplink)

	case "cancel":
		cancel := session.CancelEvent{ConversationID: c.id}
		switch {
		case c.ingest != nil:
			_ = d.machine.Handle(ctx, c.ingest, cancel)
			c.ingest = nil
		case c.lookup != nil:
			_ = d.lookup.Handle(ctx, c.lookup, cancel)
			c.lookup = nil
		default:
			d.say(ctx, c.id, "Nothing to cancel.")
		}

	case "end":
		c.ingest, c.lookup = nil, nil
		d.say(ctx, c.id, "Thank you, see you next time.")

	case "status":
		d.say(ctx, c.id, d.status(c.id))

	default:
		log.Debug("Unknown command")
		d.say(ctx, c.id, "Unknown command. Send /help for the list.")
	}
}

// startIngestion replaces any unfinished session of the conversation
func (d *Dispatcher) startIngestion(ctx context.Context, c *conversation, category inventory.Category) {
	c.lookup = nil
	s, err := d.machine.Start(ctx, c.id, category)
	if err != nil {
		d.log.WithError(err).WithField("conversation_id", c.id).Error("Failed to start ingestion")
		d.say(ctx, c.id, fmt.Sprintf("Cannot start: %v", err))
		c.ingest = nil
		return
	}
	c.ingest = s
}

func (d *Dispatcher) startLookup(ctx context.Context, c *conversation, category inventory.Category) {
	c.ingest = nil
	lc, err := d.lookup.Start(ctx, c.id, category)
	if err != nil {
		d.log.WithError(err).WithField("conversation_id", c.id).Warn("Failed to start lookup")
	}
	if lc == nil || lc.Done {
		c.lookup = nil
		return
	}
	c.lookup = lc
}

func (d *Dispatcher) status(conversationID int64) string {
	if d.tracker == nil {
		return "No uploads recorded."
	}
	run, err := d.tracker.Latest(conversationID)
	if err != nil {
		return "No uploads recorded."
	}
	text := fmt.Sprintf("Last upload into %s: %s\n- Total rows: %d\n- Processed: %d\n- Succeeded: %d\n- Failed: %d",
		run.Table, run.Status, run.Total, run.Processed, run.Succeeded, run.Failed)
	if run.Error != "" {
		text += "\n- Error: " + run.Error
	}
	return text
}
