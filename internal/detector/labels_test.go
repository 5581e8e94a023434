package detector

import (
	"reflect"
	"testing"
)

func TestLoadLabels(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    []string
		wantErr bool
	}{
		{
			name:    "yaml list",
			file:    "data.yaml",
			content: "path: ../datasets/strays\nnc: 2\nnames: ['dog', 'person']\n",
			want:    []string{"dog", "person"},
		},
		{
			name:    "yaml index map",
			file:    "data.yml",
			content: "names:\n  0: dog\n  2: cat\n",
			want:    []string{"dog", "class1", "cat"},
		},
		{
			name:    "plain names file",
			file:    "coco.names",
			content: "# classes\ndog\n\nperson\n",
			want:    []string{"dog", "person"},
		},
		{name: "yaml without names", file: "data.yaml", content: "nc: 1\n", wantErr: true},
		{name: "yaml empty list", file: "data.yaml", content: "names: []\n", wantErr: true},
		{name: "yaml negative id", file: "data.yaml", content: "names:\n  -1: dog\n", wantErr: true},
		{name: "empty names file", file: "labels.txt", content: "\n# nothing\n", wantErr: true},
	}

	for _, tt := range tests {
		path := writeFile(t, t.TempDir(), tt.file, tt.content)
		got, err := LoadLabels(path)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %v", tt.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoadLabelsMissingFile(t *testing.T) {
	if _, err := LoadLabels("does/not/exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
