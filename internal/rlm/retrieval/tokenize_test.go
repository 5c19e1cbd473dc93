package retrieval

import (
	"reflect"
	"testing"
)

func TestBuildTokensCamelAndSnake(t *testing.T) {
	got := BuildTokens("getUserID fetch_artifact_text")
	want := []string{"get", "User", "ID", "fetch", "artifact", "text"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildTokens = %v, want %v", got, want)
	}
}

func TestBuildTokensCJK(t *testing.T) {
	got := BuildTokens("会话")
	want := []string{"会话"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildTokens = %v, want %v", got, want)
	}

	got = BuildTokens("当前会话关注")
	want = []string{"当前", "前会", "会话", "话关", "关注"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildTokens = %v, want %v", got, want)
	}
}

func TestBuildTokensFallback(t *testing.T) {
	if got := BuildTokens("  what is this  "); !reflect.DeepEqual(got, []string{"what", "is", "this"}) {
		t.Fatalf("BuildTokens = %v", got)
	}
	if got := BuildTokens("   "); len(got) != 0 {
		t.Fatalf("BuildTokens(blank) = %v, want empty", got)
	}
}

func TestBuildTokensCap(t *testing.T) {
	got := BuildTokens("a_b_c_d_e_f_g_h_i_j_k_l_m_n_o_p")
	if len(got) != maxTokens {
		t.Fatalf("len(BuildTokens) = %d, want %d", len(got), maxTokens)
	}
}
