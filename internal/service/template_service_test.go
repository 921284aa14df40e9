package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	svc := NewTemplateService()

	tests := []struct {
		name     string
		template string
		fields   map[string]string
		want     string
	}{
		{
			"replaces placeholders",
			"<p>Hi {first_name} {last_name}</p>",
			map[string]string{"first_name": "Jane", "last_name": "Doe"},
			"<p>Hi Jane Doe</p>",
		},
		{
			"missing field renders empty",
			"Hi {first_name}, your code is {code}",
			map[string]string{"first_name": "Jane"},
			"Hi Jane, your code is ",
		},
		{
			"no placeholders passes through",
			"<p>Plain body</p>",
			nil,
			"<p>Plain body</p>",
		},
		{
			"repeated placeholder",
			"{name} and {name}",
			map[string]string{"name": "Jo"},
			"Jo and Jo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Render(tt.template, tt.fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_EmptyTemplate(t *testing.T) {
	_, err := NewTemplateService().Render("", nil)
	assert.Error(t, err)
}

func TestValidateTemplate(t *testing.T) {
	svc := NewTemplateService()

	assert.NoError(t, svc.ValidateTemplate("Hi {name}"))
	assert.Error(t, svc.ValidateTemplate("Hi {name"))
	assert.Error(t, svc.ValidateTemplate(""))
}

func TestGetPlaceholders(t *testing.T) {
	got := NewTemplateService().GetPlaceholders("Hi {first_name}, order {order_id} shipped")
	assert.Equal(t, []string{"{first_name}", "{order_id}"}, got)
}
