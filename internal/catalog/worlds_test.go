package catalog

import "testing"

func TestDefaultCatalogStartingNodes(t *testing.T) {
	c := Default()

	tests := []struct {
		world, storyline, node string
	}{
		{"magic-kingdom", "storyline-1", "node-opening"},
		{"cyber-city", "storyline-2", "node-cyber-opening"},
		{"wuxia-world", "storyline-3", "node-wuxia-opening"},
	}
	for _, tt := range tests {
		n, ok := c.StartingNode(tt.world, tt.storyline)
		if !ok {
			t.Fatalf("StartingNode(%q, %q) not found", tt.world, tt.storyline)
		}
		if n.ID != tt.node {
			t.Errorf("StartingNode(%q).ID = %q, want %q", tt.world, n.ID, tt.node)
		}
		if len(n.Choices) != 3 {
			t.Errorf("StartingNode(%q) has %d choices, want 3", tt.world, len(n.Choices))
		}
	}
}

func TestUnknownIDs(t *testing.T) {
	c := Default()
	if _, ok := c.World("atlantis"); ok {
		t.Error("World(atlantis) found")
	}
	if _, ok := c.Storyline("magic-kingdom", "storyline-9"); ok {
		t.Error("Storyline(magic-kingdom, storyline-9) found")
	}
	if _, ok := c.Storyline("cyber-city", "storyline-1"); ok {
		t.Error("storyline resolved in the wrong world")
	}
}

func TestCatalogHandsOutCopies(t *testing.T) {
	c := Default()
	n, _ := c.StartingNode("magic-kingdom", "storyline-1")
	n.Choices[0].Text = "mutated"

	again, _ := c.StartingNode("magic-kingdom", "storyline-1")
	if again.Choices[0].Text == "mutated" {
		t.Error("catalog entry mutated through a returned node")
	}

	w, _ := c.World("wuxia-world")
	w.Context.Characters[0].Name = "mutated"
	w2, _ := c.World("wuxia-world")
	if w2.Context.Characters[0].Name == "mutated" {
		t.Error("catalog world mutated through a returned copy")
	}
}

func TestSceneName(t *testing.T) {
	c := Default()
	if got := c.SceneName("magic-kingdom", "crystal-forest"); got != "水晶森林" {
		t.Errorf("SceneName = %q, want 水晶森林", got)
	}
	if got := c.SceneName("magic-kingdom", "lower-city"); got != "" {
		t.Errorf("SceneName for foreign scene = %q, want empty", got)
	}
	if got := c.SceneName("magic-kingdom", ""); got != "" {
		t.Errorf("SceneName(\"\") = %q, want empty", got)
	}
}

func TestWorldsOrder(t *testing.T) {
	ws := Default().Worlds()
	if len(ws) != 3 {
		t.Fatalf("len(Worlds) = %d, want 3", len(ws))
	}
	if ws[0].ID != "magic-kingdom" || ws[1].ID != "cyber-city" || ws[2].ID != "wuxia-world" {
		t.Errorf("world order = %s, %s, %s", ws[0].ID, ws[1].ID, ws[2].ID)
	}
}
